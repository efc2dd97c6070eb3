package model

import (
	"slices"
	"time"
)

// Refresh copies fresh source values onto a stored article. Simple fields
// are compared one by one; authors, abstract, publication date and types
// are each replaced as a whole when any part differs. UpdateDate is set to
// when if anything changed.
func (a *Article) Refresh(fresh *Article, when time.Time) bool {
	changed := false

	simple := []struct {
		old *string
		new string
	}{
		{&a.Source, fresh.Source},
		{&a.SourceID, fresh.SourceID},
		{&a.SourceJournalID, fresh.SourceJournalID},
		{&a.SourceStatus, fresh.SourceStatus},
		{&a.JournalTitle, fresh.JournalTitle},
		{&a.BriefJournalTitle, fresh.BriefJournalTitle},
		{&a.Volume, fresh.Volume},
		{&a.Issue, fresh.Issue},
		{&a.Pagination, fresh.Pagination},
	}
	for _, f := range simple {
		if *f.old != f.new {
			*f.old = f.new
			changed = true
		}
	}
	if a.Title != fresh.Title {
		a.Title = fresh.Title
		a.SearchTitle = fresh.SearchTitle
		changed = true
	}
	if a.Year != fresh.Year {
		a.Year = fresh.Year
		changed = true
	}

	if !slices.EqualFunc(a.Authors, fresh.Authors, sameAuthor) {
		a.Authors = slices.Clone(fresh.Authors)
		a.LastAuthorName = fresh.LastAuthorName
		changed = true
	}
	if !slices.Equal(a.Abstract, fresh.Abstract) {
		a.Abstract = slices.Clone(fresh.Abstract)
		changed = true
	}
	if a.PubDate != fresh.PubDate {
		a.PubDate = fresh.PubDate
		changed = true
	}
	if !slices.Equal(a.Types, fresh.Types) {
		a.Types = slices.Clone(fresh.Types)
		changed = true
	}

	// Cross references are kept current but do not count as a change.
	a.CommentsCorrections = slices.Clone(fresh.CommentsCorrections)

	if changed {
		a.UpdateDate = &when
	}
	return changed
}

// sameAuthor compares only the name parts delivered by the source.
func sameAuthor(x, y Author) bool {
	return x.LastName == y.LastName &&
		x.FirstName == y.FirstName &&
		x.Initials == y.Initials &&
		x.CollectiveName == y.CollectiveName
}
