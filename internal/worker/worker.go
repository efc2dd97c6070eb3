package worker

import (
	"context"
	"sync"
	"time"

	"litreview/internal/importer"
	"litreview/internal/model"
	"litreview/internal/store"

	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"
)

const scrapeTimeout = 30 * time.Second

// Scraper defines the interface for downloading full-text pages.
// This allows us to mock the "Download" step in tests.
type Scraper interface {
	Scrape(url string, timeout time.Duration) (*readability.Article, error)
}

// DefaultScraper is the real implementation that uses the internet
type DefaultScraper struct{}

func (s *DefaultScraper) Scrape(url string, timeout time.Duration) (*readability.Article, error) {
	art, err := readability.FromURL(url, timeout)
	return &art, err
}

// Processor runs follow-up imports.
type Processor interface {
	Process(ctx context.Context, req importer.Request) (*model.Batch, error)
}

type Worker struct {
	store    store.Store
	importer Processor
	logger   *zap.Logger
	scraper  Scraper

	// mu guards article writes against the API server.
	mu *sync.Mutex
}

type Option func(*Worker)

// WithArticleLock shares mu with anything else that writes articles.
func WithArticleLock(mu *sync.Mutex) Option {
	return func(w *Worker) {
		if mu != nil {
			w.mu = mu
		}
	}
}

// NewWorker initializes the worker with the DefaultScraper
func NewWorker(st store.Store, imp Processor, logger *zap.Logger, opts ...Option) *Worker {
	w := &Worker{
		store:    st,
		importer: imp,
		logger:   logger,
		scraper:  &DefaultScraper{},
		mu:       &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the worker loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started. Waiting for jobs...")

	for {
		// Wait for job (Blocking call to Redis)
		job, err := w.store.PopJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker shutting down")
				return
			}
			w.logger.Error("Queue error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job model.Job) {
	logger := w.logger.With(zap.String("job_id", job.ID.String()), zap.String("kind", string(job.Kind)))
	logger.Info("Processing started")

	switch job.Kind {
	case model.JobFollowup:
		w.runFollowup(ctx, job, logger)
	case model.JobFullText:
		w.retrieveFullText(ctx, job, logger)
	default:
		logger.Error("Unknown job kind")
	}
}

func (w *Worker) runFollowup(ctx context.Context, job model.Job, logger *zap.Logger) {
	if job.Followup == nil {
		logger.Error("Follow-up job without a request")
		return
	}
	w.mu.Lock()
	batch, err := w.importer.Process(ctx, importer.RequestFromFollowup(*job.Followup))
	w.mu.Unlock()
	if err != nil {
		logger.Error("Follow-up import rejected", zap.Error(err))
		return
	}
	logger.Info("Follow-up import complete",
		zap.String("parent_batch_id", job.BatchID.String()),
		zap.String("batch_id", batch.ID.String()),
		zap.Bool("success", batch.Success),
		zap.Any("counts", batch.Counts()))
}

func (w *Worker) retrieveFullText(ctx context.Context, job model.Job, logger *zap.Logger) {
	if _, err := w.store.Get(ctx, job.ArticleID); err != nil {
		logger.Error("Job failed: Article not found", zap.Int64("article_id", job.ArticleID), zap.Error(err))
		return
	}

	// The download runs unlocked; the article is reloaded afterwards so
	// changes made meanwhile are kept.
	logger.Info("Downloading", zap.String("url", job.URL))
	page, err := w.scraper.Scrape(job.URL, scrapeTimeout)
	if err != nil {
		logger.Error("Scraping failed", zap.Error(err))
		w.setFullText(ctx, job.ArticleID, &model.FullText{URL: job.URL, Unavailable: true}, logger)
		return
	}

	if err := w.store.SaveFullText(ctx, job.ArticleID, page.Content); err != nil {
		logger.Error("Failed to save full text", zap.Error(err))
		return
	}
	now := time.Now()
	if w.setFullText(ctx, job.ArticleID, &model.FullText{URL: job.URL, Retrieved: &now}, logger) {
		logger.Info("Full text retrieved", zap.Int64("article_id", job.ArticleID), zap.String("title", page.Title))
	}
}

// setFullText reloads the article under the lock and replaces only its
// full-text reference.
func (w *Worker) setFullText(ctx context.Context, articleID int64, ft *model.FullText, logger *zap.Logger) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	article, err := w.store.Get(ctx, articleID)
	if err != nil {
		logger.Error("Failed to reload article", zap.Int64("article_id", articleID), zap.Error(err))
		return false
	}
	article.FullText = ft
	if err := w.store.Save(ctx, article); err != nil {
		logger.Error("Failed to save result", zap.Error(err))
		return false
	}
	return true
}
