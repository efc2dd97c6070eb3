package model

import (
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobFollowup JobKind = "followup"
	JobFullText JobKind = "fulltext"
)

// FollowupRequest carries the parameters of a follow-up import. It mirrors
// the subset of an import request that is worth repeating: the review
// target and the flags that decide how related articles are classified.
type FollowupRequest struct {
	ArticleIDs      []string `json:"article_ids"`
	Topic           int      `json:"topic"`
	Cycle           string   `json:"cycle"`
	User            string   `json:"user"`
	ImportType      string   `json:"import_type,omitempty"`
	Comment         string   `json:"comment,omitempty"`
	OverrideNotList bool     `json:"override_not_list,omitempty"`
	CoreJournals    bool     `json:"core_journals,omitempty"`
}

// Job is a unit of background work queued in Redis.
type Job struct {
	ID        uuid.UUID        `json:"id"`
	Kind      JobKind          `json:"kind"`
	BatchID   uuid.UUID        `json:"batch_id,omitempty"`
	ArticleID int64            `json:"article_id,omitempty"`
	URL       string           `json:"url,omitempty"`
	Followup  *FollowupRequest `json:"followup,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewFollowupJob wraps a follow-up import spawned by batchID.
func NewFollowupJob(batchID uuid.UUID, req FollowupRequest) Job {
	return Job{
		ID:        uuid.New(),
		Kind:      JobFollowup,
		BatchID:   batchID,
		Followup:  &req,
		CreatedAt: time.Now(),
	}
}

// NewFullTextJob asks the worker to retrieve the full text at url.
func NewFullTextJob(articleID int64, url string) Job {
	return Job{
		ID:        uuid.New(),
		Kind:      JobFullText,
		ArticleID: articleID,
		URL:       url,
		CreatedAt: time.Now(),
	}
}
