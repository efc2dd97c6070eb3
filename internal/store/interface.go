package store

import (
	"context"
	"errors"
	"time"

	"litreview/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrMultipleArticles  = errors.New("multiple articles share one source id")
	ErrDuplicateSourceID = errors.New("source id already stored")
	ErrNoDisk            = errors.New("badgerdb is not initialized")
)

// Articles is the article repository. Topic associations and their states
// live inside the article document, so saving the article saves them.
type Articles interface {
	// FindBySourceID returns nil (and no error) when nothing matches.
	FindBySourceID(ctx context.Context, source, sourceID string) (*model.Article, error)
	Create(ctx context.Context, article *model.Article) error
	Save(ctx context.Context, article *model.Article) error
	Get(ctx context.Context, id int64) (*model.Article, error)
	StaleSourceIDs(ctx context.Context, source string, before time.Time) ([]string, error)
}

type FullTexts interface {
	SaveFullText(ctx context.Context, articleID int64, content string) error
	GetFullText(ctx context.Context, articleID int64) (string, error)
}

type Batches interface {
	SaveBatch(ctx context.Context, batch *model.Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*model.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]model.Batch, error)
}

type Jobs interface {
	Enqueue(ctx context.Context, job model.Job) error
	PopJob(ctx context.Context) (model.Job, error)
}

// Store is everything HybridStore provides.
type Store interface {
	Articles
	FullTexts
	Batches
	Jobs
}
