// Package importer runs PubMed import batches: it fetches the requested
// records in chunks, classifies each one against the article repository,
// drives the review state machine, and reports the outcome as a Batch.
package importer

import (
	"context"
	"slices"
	"time"

	"litreview/internal/model"
	"litreview/internal/pubmed"
	"litreview/internal/review"
	"litreview/internal/store"
	"litreview/internal/taxonomy"

	"go.uber.org/zap"
)

const (
	coreJournalComment = "Published because of import from core journals"
	missingMessage     = "No article with this Pubmed ID was returned by Pubmed"
)

// Source is the record source client the importer drives.
type Source interface {
	FetchAll(ctx context.Context, ids []string, handle func(chunk, docs []string)) error
	FetchJournalID(ctx context.Context, pmid string) (string, error)
	ChunkSize() int
}

type Importer struct {
	source   Source
	articles store.Articles
	batches  store.Batches
	jobs     store.Jobs
	vocab    *taxonomy.Vocabulary
	machine  *review.Machine
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Importer)

// WithClock overrides time.Now for batch timestamps.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// WithJobs enables queueing of follow-up imports and full-text retrieval.
func WithJobs(jobs store.Jobs) Option {
	return func(im *Importer) { im.jobs = jobs }
}

func New(source Source, articles store.Articles, batches store.Batches, vocab *taxonomy.Vocabulary, logger *zap.Logger, opts ...Option) *Importer {
	im := &Importer{
		source:   source,
		articles: articles,
		batches:  batches,
		vocab:    vocab,
		machine:  review.NewMachine(vocab),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// run is the state of one in-flight batch.
type run struct {
	req       Request
	batch     *model.Batch
	board     taxonomy.Board
	notList   map[string]bool
	requested map[string]bool
	fetched   map[string]bool
	ready     map[string]bool
	followup  []string
	logger    *zap.Logger

	dispositions map[string]int
}

func (r *run) test() bool {
	return r.batch.Test
}

// addAction records a disposition. Disposition ids are looked up once per
// batch.
func (r *run) addAction(vocab *taxonomy.Vocabulary, pmid, disposition string, articleID int64, message string) {
	if r.dispositions == nil {
		r.dispositions = vocab.DispositionIDs()
	}
	if _, ok := r.dispositions[disposition]; !ok {
		r.logger.Warn("Disposition missing from taxonomy", zap.String("disposition", disposition))
	}
	r.batch.AddAction(pmid, disposition, articleID, message)
}

// Process runs one import request. A non-nil error means the request was
// rejected before anything was fetched; every other problem is reported on
// the returned batch.
func (im *Importer) Process(ctx context.Context, req Request) (*model.Batch, error) {
	r, pmids, err := im.prepare(req)
	if err != nil {
		return nil, err
	}
	logger := r.logger
	logger.Info("Import started",
		zap.Int("articles", len(pmids)),
		zap.String("import_type", r.batch.ImportType),
		zap.Int("topic", r.batch.Topic),
		zap.Bool("test", r.test()))

	err = im.source.FetchAll(ctx, pmids, func(_, docs []string) {
		for _, doc := range docs {
			if !im.handleDocument(ctx, r, doc) {
				break
			}
		}
	})
	if err != nil {
		r.batch.AddErrorMessage(err.Error())
	}

	for _, pmid := range pmids {
		if !r.fetched[pmid] {
			r.addAction(im.vocab, pmid, model.DispositionError, 0, missingMessage)
		}
	}

	r.batch.Followup = followups(r.followup, r.requested)

	if !r.test() {
		if err := im.batches.SaveBatch(ctx, r.batch); err != nil {
			logger.Error("Failed to save batch", zap.Error(err))
			r.batch.AddMessage("Unable to save batch report: " + err.Error())
		}
		im.queueFollowup(ctx, r)
	}

	logger.Info("Import finished",
		zap.Bool("success", r.batch.Success),
		zap.Int("article_count", r.batch.ArticleCount),
		zap.Any("counts", r.batch.Counts()),
		zap.Int("followup", len(r.batch.Followup)))
	return r.batch, nil
}

// prepare validates the request and sets up the batch.
func (im *Importer) prepare(req Request) (*run, []string, error) {
	if len(req.ArticleIDs) == 0 {
		return nil, nil, invalid("No articles specified in import request.")
	}

	importType := req.ImportType
	switch {
	case importType == "" && req.Topic == 0:
		importType = model.ImportDataRefresh
	case importType == "" && !req.FastTrack:
		importType = model.ImportRegular
	case importType == "":
		importType = model.ImportFastTrack
	default:
		if _, ok := im.vocab.ImportType(importType); !ok {
			return nil, nil, invalid("Unknown import type '%s'.", importType)
		}
		if req.Topic == 0 && importType != model.ImportDataRefresh && importType != model.ImportInternal {
			return nil, nil, invalid("Topic is required for this import type.")
		}
	}

	pmids, err := uniqueIDs(req.ArticleIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(pmids) == 0 {
		return nil, nil, invalid("No articles specified in import request.")
	}

	now := im.now()
	batch := model.NewBatch(now)
	batch.Topic = req.Topic
	batch.User = req.User
	batch.ImportType = importType
	batch.Comment = req.Comment
	batch.Test = req.Test
	batch.NotList = !req.OverrideNotList && req.Topic != 0

	r := &run{
		req:       req,
		batch:     batch,
		notList:   map[string]bool{},
		requested: make(map[string]bool, len(pmids)),
		fetched:   make(map[string]bool, len(pmids)),
		ready:     make(map[string]bool),
		logger:    im.logger.With(zap.String("batch_id", batch.ID.String())),
	}
	for _, id := range pmids {
		r.requested[id] = true
	}

	if req.Topic != 0 {
		if req.Cycle == "" {
			return nil, nil, invalid("Cycle must be specified for topic-specific import.")
		}
		cycle, err := model.ParseCycle(req.Cycle)
		if err != nil {
			return nil, nil, &ValidationError{Message: "Invalid review cycle.", Err: err}
		}
		batch.Cycle = cycle

		topic, ok := im.vocab.Topic(req.Topic)
		if !ok {
			return nil, nil, invalid("Unknown topic %d.", req.Topic)
		}
		batch.Board = topic.Board
		r.board, _ = im.vocab.Board(topic.Board)
		if batch.NotList {
			r.notList = im.vocab.NotList(topic.Board, now)
		}
	}

	if req.Topic == 0 && (req.FastTrack || req.CoreJournals) {
		return nil, nil, invalid("Topic is required for fast-track and core-journal imports.")
	}
	if req.FastTrack && !req.Test {
		placement := req.placement()
		if placement == "" {
			return nil, nil, invalid("Placement is required for fast-track import.")
		}
		if _, ok := im.vocab.State(placement); !ok {
			return nil, nil, invalid("Unknown placement state '%s'.", placement)
		}
	}
	return r, pmids, nil
}

// handleDocument parses and imports one split document. It returns false
// when the rest of the chunk should be skipped.
func (im *Importer) handleDocument(ctx context.Context, r *run, doc string) bool {
	fresh, err := pubmed.Parse(doc)
	if err != nil {
		msg := "Error parsing article XML: " + err.Error()
		r.logger.Error(msg)
		r.batch.AddMessage(msg)
		return false
	}

	pmid := fresh.SourceID
	if r.fetched[pmid] {
		r.addAction(im.vocab, pmid, model.DispositionError, 0, "Article already received from NLM for this batch.")
		return true
	}
	r.fetched[pmid] = true
	if !r.requested[pmid] {
		r.addAction(im.vocab, pmid, model.DispositionError, 0, "Received unrequested article.")
		return true
	}

	article, err := im.importRecord(ctx, r, fresh)
	if err != nil {
		msg := "Error importing article: " + err.Error()
		r.logger.Error(msg, zap.String("pmid", pmid))
		r.batch.AddMessage(msg)
		return false
	}
	if article == nil {
		r.logger.Warn("Skipping failed article", zap.String("pmid", pmid))
		return true
	}

	if !r.test() {
		if err := im.applyRequest(ctx, r, article); err != nil {
			msg := "Error updating article: " + err.Error()
			r.logger.Error(msg, zap.String("pmid", pmid))
			r.batch.AddMessage(msg)
		}
	}
	return true
}

// followups de-duplicates the discovered ids and drops the requested ones.
func followups(found []string, requested map[string]bool) []string {
	var out []string
	for _, id := range found {
		if !requested[id] && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (im *Importer) queueFollowup(ctx context.Context, r *run) {
	if !r.req.QueueFollowup || len(r.batch.Followup) == 0 || im.jobs == nil {
		return
	}
	job := model.NewFollowupJob(r.batch.ID, model.FollowupRequest{
		ArticleIDs: r.batch.Followup,
		Topic:      r.batch.Topic,
		Cycle:      r.batch.Cycle,
		User:       r.batch.User,
		ImportType: model.ImportRegular,
		Comment:    r.batch.Comment,

		OverrideNotList: r.req.OverrideNotList,
		CoreJournals:    r.req.CoreJournals,
	})
	if err := im.jobs.Enqueue(ctx, job); err != nil {
		r.logger.Error("Failed to queue follow-up import", zap.Error(err))
		return
	}
	r.logger.Info("Follow-up import queued", zap.String("job_id", job.ID.String()), zap.Strings("pmids", r.batch.Followup))
}
