package model

import (
	"fmt"
	"time"
)

// SourcePubmed is the only record source the importer talks to.
const SourcePubmed = "Pubmed"

// Author is one entry of an article's author list.
type Author struct {
	LastName       string `json:"last_name,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	Initials       string `json:"initials,omitempty"`
	CollectiveName string `json:"collective_name,omitempty"`
	DisplayName    string `json:"display_name"`
	SearchName     string `json:"search_name"`
}

// AbstractParagraph is one (optionally labeled) block of the abstract.
type AbstractParagraph struct {
	Text  string `json:"text"`
	Label string `json:"label,omitempty"`
}

// PubDate keeps the publication date parts exactly as the source sent them.
type PubDate struct {
	Year        string `json:"year,omitempty"`
	Month       string `json:"month,omitempty"`
	Day         string `json:"day,omitempty"`
	Season      string `json:"season,omitempty"`
	MedlineDate string `json:"medline_date,omitempty"`
}

type Comment struct {
	User    string    `json:"user"`
	Entered time.Time `json:"entered"`
	Body    string    `json:"body"`
}

type Tag struct {
	TextID   string    `json:"text_id"`
	User     string    `json:"user"`
	Assigned time.Time `json:"assigned"`
	Active   bool      `json:"active"`
	Comments []Comment `json:"comments,omitempty"`
}

type InternalTag struct {
	Tag   string    `json:"tag"`
	Added time.Time `json:"added"`
}

// FullText points at the article's full text, either an uploaded file
// reference or a URL retrieved by the worker.
type FullText struct {
	File        string     `json:"file,omitempty"`
	URL         string     `json:"url,omitempty"`
	Unavailable bool       `json:"unavailable"`
	Retrieved   *time.Time `json:"retrieved,omitempty"`
}

// Article is one bibliographic record, unique by (Source, SourceID).
type Article struct {
	ID                  int64               `json:"id"`
	Source              string              `json:"source"`
	SourceID            string              `json:"source_id"`
	SourceJournalID     string              `json:"source_journal_id"`
	SourceStatus        string              `json:"source_status"`
	Title               string              `json:"title"`
	SearchTitle         string              `json:"search_title"`
	JournalTitle        string              `json:"journal_title"`
	BriefJournalTitle   string              `json:"brief_journal_title"`
	Volume              string              `json:"volume,omitempty"`
	Issue               string              `json:"issue,omitempty"`
	Pagination          string              `json:"pagination,omitempty"`
	Year                int                 `json:"year,omitempty"`
	Authors             []Author            `json:"authors,omitempty"`
	LastAuthorName      string              `json:"last_author_name,omitempty"`
	Abstract            []AbstractParagraph `json:"abstract,omitempty"`
	PubDate             PubDate             `json:"pub_date"`
	Types               []string            `json:"types,omitempty"`
	CommentsCorrections []string            `json:"comments_corrections,omitempty"`
	ImportedBy          string              `json:"imported_by,omitempty"`
	ImportDate          time.Time           `json:"import_date"`
	UpdateDate          *time.Time          `json:"update_date,omitempty"`
	DataChecked         *time.Time          `json:"data_checked,omitempty"`
	LegacyID            int64               `json:"legacy_id,omitempty"`
	Tags                []Tag               `json:"tags,omitempty"`
	InternalTags        []InternalTag       `json:"internal_tags,omitempty"`
	InternalComments    []Comment           `json:"internal_comments,omitempty"`
	FullText            *FullText           `json:"full_text,omitempty"`
	Topics              []*ArticleTopic     `json:"topics,omitempty"`
}

// Topic returns the article's association with topicID, or nil.
func (a *Article) Topic(topicID int) *ArticleTopic {
	for _, t := range a.Topics {
		if t.Topic == topicID {
			return t
		}
	}
	return nil
}

// CurrentState returns the current state for topicID, or nil if the topic
// is zero, unassigned, or has no current state.
func (a *Article) CurrentState(topicID int) *State {
	if topicID == 0 {
		return nil
	}
	if t := a.Topic(topicID); t != nil {
		return t.CurrentState()
	}
	return nil
}

// InCoreJournal reports whether the article's journal is flagged core by
// the supplied predicate.
func (a *Article) InCoreJournal(isCore func(journalID string) bool) bool {
	return a.SourceJournalID != "" && isCore(a.SourceJournalID)
}

// AddTag attaches a tag to the article, or to one of its topics when topicID
// is not zero. The topic must already be assigned.
func (a *Article) AddTag(textID string, topicID int, user string, when time.Time, comment string) (*Tag, error) {
	tag := Tag{TextID: textID, User: user, Assigned: when, Active: true}
	if comment != "" {
		tag.Comments = []Comment{{User: user, Entered: when, Body: comment}}
	}
	if topicID == 0 {
		a.Tags = append(a.Tags, tag)
		return &a.Tags[len(a.Tags)-1], nil
	}
	t := a.Topic(topicID)
	if t == nil {
		return nil, fmt.Errorf("topic %d not assigned to article %d", topicID, a.ID)
	}
	t.Tags = append(t.Tags, tag)
	return &t.Tags[len(t.Tags)-1], nil
}

// AddInternalTags merges tags not already present. It reports whether
// anything was added.
func (a *Article) AddInternalTags(tags []string, when time.Time) bool {
	seen := make(map[string]bool, len(a.InternalTags))
	for _, t := range a.InternalTags {
		seen[t.Tag] = true
	}
	added := false
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		a.InternalTags = append(a.InternalTags, InternalTag{Tag: tag, Added: when})
		added = true
	}
	return added
}

func (a *Article) AddInternalComment(user string, when time.Time, body string) {
	a.InternalComments = append(a.InternalComments, Comment{User: user, Entered: when, Body: body})
}
