package importer

import (
	"context"
	"fmt"

	"litreview/internal/model"
	"litreview/internal/review"

	"go.uber.org/zap"
)

const (
	stateReadyInitReview    = "ready_init_review"
	stateRejectJournalTitle = "reject_journal_title"
)

// importRecord classifies one parsed record against the repository and
// records the dispositions on the batch. A nil article with a nil error
// means the record was rejected with an error action.
func (im *Importer) importRecord(ctx context.Context, r *run, fresh *model.Article) (*model.Article, error) {
	b := r.batch
	pmid := fresh.SourceID
	topic := b.Topic
	notListed := r.notList[fresh.SourceJournalID]

	article, err := im.articles.FindBySourceID(ctx, fresh.Source, pmid)
	if err != nil {
		r.logger.Error("Article lookup failed", zap.String("pmid", pmid), zap.Error(err))
		r.addAction(im.vocab, pmid, model.DispositionError, 0, err.Error())
		return nil, nil
	}

	if article == nil {
		article = fresh
		article.ImportedBy = b.User
		article.ImportDate = b.Imported
		if !r.test() {
			if err := im.articles.Create(ctx, article); err != nil {
				return nil, err
			}
		}
		r.addAction(im.vocab, pmid, model.DispositionImported, article.ID, "")
		if topic != 0 {
			if !r.test() {
				if err := im.addState(r, article, stateReadyInitReview, b.Comment); err != nil {
					return nil, err
				}
			}
			r.addAction(im.vocab, pmid, model.DispositionReviewReady, article.ID, "")
			r.ready[pmid] = true
		}
	} else {
		if article.Refresh(fresh, b.Imported) {
			r.addAction(im.vocab, pmid, model.DispositionReplaced, article.ID, "")
		}
		current := article.CurrentState(topic)
		if topic != 0 && current == nil {
			r.addAction(im.vocab, pmid, model.DispositionTopicAdded, article.ID, "")
			r.addAction(im.vocab, pmid, model.DispositionReviewReady, article.ID, "")
			r.ready[pmid] = true
			if !r.test() {
				if err := im.addState(r, article, stateReadyInitReview, b.Comment); err != nil {
					return nil, err
				}
			}
		} else {
			r.addAction(im.vocab, pmid, model.DispositionDuplicate, article.ID, "")
		}

		// An existing rejection for the journal is left alone.
		if notListed && current != nil && current.Value == stateRejectJournalTitle {
			notListed = false
		}
	}

	if notListed {
		r.addAction(im.vocab, pmid, model.DispositionNotListed, article.ID, im.notListedMessage(fresh.SourceJournalID))
		if !r.test() {
			if err := im.addState(r, article, stateRejectJournalTitle, b.Comment); err != nil {
				return nil, err
			}
		}
	}

	if topic != 0 && len(fresh.CommentsCorrections) > 0 && r.board.AutoImports && article.InCoreJournal(im.vocab.CoreJournal) {
		im.findRelated(ctx, r, article, fresh.CommentsCorrections)
	}

	if !r.test() {
		if err := im.articles.Save(ctx, article); err != nil {
			return nil, err
		}
	}
	return article, nil
}

func (im *Importer) notListedMessage(journalID string) string {
	title := journalID
	if j, ok := im.vocab.Journal(journalID); ok && j.Title != "" {
		title = j.Title
	}
	return fmt.Sprintf("Journal '%s' is on the board's NOT list", title)
}

// findRelated queues cross-referenced articles we don't have yet when they
// appeared in the same journal.
func (im *Importer) findRelated(ctx context.Context, r *run, article *model.Article, related []string) {
	for _, other := range related {
		existing, err := im.articles.FindBySourceID(ctx, model.SourcePubmed, other)
		if err == nil && existing != nil {
			continue
		}
		var journalID string
		if err == nil {
			journalID, err = im.source.FetchJournalID(ctx, other)
		}
		if err != nil {
			msg := "Checking for related articles: " + err.Error()
			r.logger.Error(msg, zap.String("pmid", article.SourceID), zap.String("related", other))
			r.addAction(im.vocab, article.SourceID, model.DispositionError, 0, msg)
			continue
		}
		if journalID == article.SourceJournalID {
			r.followup = append(r.followup, other)
		}
	}
}

func (im *Importer) addState(r *run, article *model.Article, value, comment string) error {
	_, err := im.machine.AddState(article, review.Transition{
		Value:   value,
		Topic:   r.batch.Topic,
		User:    r.batch.User,
		Entered: r.batch.Imported,
		Cycle:   r.batch.Cycle,
		Comment: comment,
	})
	return err
}

// applyRequest applies the request-level extras to an imported article and
// saves it when anything changed.
func (im *Importer) applyRequest(ctx context.Context, r *run, article *model.Article) error {
	req := r.req
	b := r.batch
	topic, user, now := b.Topic, b.User, b.Imported
	changed := false

	switch {
	case req.FullTextFile != "":
		article.FullText = &model.FullText{File: req.FullTextFile}
		changed = true
	case req.FullTextURL != "":
		article.FullText = &model.FullText{URL: req.FullTextURL}
		changed = true
	}

	for _, t := range []struct {
		on  bool
		tag string
	}{
		{req.SpecialSearch, "i_specialsearch"},
		{req.HighPriority, "high_priority"},
		{req.CoreJournals, "i_core_journals"},
	} {
		if !t.on {
			continue
		}
		if _, err := im.machine.AddTag(article, t.tag, topic, user, now, ""); err != nil {
			return err
		}
		changed = true
	}
	if req.CoreJournals && !req.FastTrack {
		if err := im.addState(r, article, "published", coreJournalComment); err != nil {
			return err
		}
	}

	if req.FastTrack && r.ready[article.SourceID] {
		if _, err := im.machine.AddTag(article, "i_fasttrack", topic, user, now, ""); err != nil {
			return err
		}
		placement := req.placement()
		state, err := im.machine.AddState(article, review.Transition{
			Value:   placement,
			Topic:   topic,
			User:    user,
			Entered: now,
			Cycle:   b.Cycle,
			Comment: req.FastTrackComment,
		})
		if err != nil {
			return err
		}
		switch {
		case placement == review.StateOnAgenda && req.Meeting != 0:
			err = im.machine.AttachMeeting(state, req.Meeting)
		case placement == review.StateFinalBoardDecision && req.Decision != "":
			err = im.machine.AttachDecision(state, model.Decision{Decision: req.Decision, MeetingDate: b.Cycle})
		}
		if err != nil {
			return err
		}
		changed = true
	}

	if req.TopicComment != "" {
		if at := article.Topic(topic); at != nil {
			at.AddComment(user, now, req.TopicComment)
			changed = true
		}
	}
	if article.AddInternalTags(req.InternalTags, now) {
		changed = true
	}
	if req.InternalComment != "" {
		article.AddInternalComment(user, now, req.InternalComment)
		changed = true
	}

	if !changed {
		return nil
	}
	if err := im.articles.Save(ctx, article); err != nil {
		return fmt.Errorf("save article %d: %w", article.ID, err)
	}
	if req.FullTextURL != "" && im.jobs != nil {
		if err := im.jobs.Enqueue(ctx, model.NewFullTextJob(article.ID, req.FullTextURL)); err != nil {
			return fmt.Errorf("queue full text for article %d: %w", article.ID, err)
		}
	}
	return nil
}
