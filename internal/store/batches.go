package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"litreview/internal/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	recentBatchesKey = "list:batches"
	recentBatchesMax = 50
	followupQueueKey = "queue:followup"
	fullTextQueueKey = "queue:fulltext"

	// popTimeout bounds each BRPOP so cancellation is noticed.
	popTimeout = time.Second
)

func batchKey(id uuid.UUID) string {
	return fmt.Sprintf("batch:%s", id)
}

// SaveBatch stores the batch report and pushes it onto the recent list.
func (s *HybridStore) SaveBatch(ctx context.Context, batch *model.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, batchKey(batch.ID), data, 0)
	pipe.LRem(ctx, recentBatchesKey, 0, batch.ID.String())
	pipe.LPush(ctx, recentBatchesKey, batch.ID.String())
	pipe.LTrim(ctx, recentBatchesKey, 0, recentBatchesMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *HybridStore) GetBatch(ctx context.Context, id uuid.UUID) (*model.Batch, error) {
	val, err := s.rdb.Get(ctx, batchKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	var batch model.Batch
	if err := json.Unmarshal(val, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListBatches returns the most recent batch reports, newest first.
func (s *HybridStore) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	ids, err := s.rdb.LRange(ctx, recentBatchesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	batches := []model.Batch{}
	for _, idStr := range ids {
		val, err := s.rdb.Get(ctx, "batch:"+idStr).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, err
		}
		var b model.Batch
		if err := json.Unmarshal(val, &b); err == nil {
			batches = append(batches, b)
		}
	}
	return batches, nil
}

// Enqueue pushes a job onto the queue for its kind.
func (s *HybridStore) Enqueue(ctx context.Context, job model.Job) error {
	key, err := queueKey(job.Kind)
	if err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.rdb.LPush(ctx, key, data).Err()
}

// PopJob waits for the next job on any queue (Blocking). It returns the
// context error once ctx is cancelled.
func (s *HybridStore) PopJob(ctx context.Context) (model.Job, error) {
	for {
		result, err := s.rdb.BRPop(ctx, popTimeout, followupQueueKey, fullTextQueueKey).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return model.Job{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return model.Job{}, err
		}
		var job model.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return model.Job{}, fmt.Errorf("decode job from %s: %w", result[0], err)
		}
		return job, nil
	}
}

func queueKey(kind model.JobKind) (string, error) {
	switch kind {
	case model.JobFollowup:
		return followupQueueKey, nil
	case model.JobFullText:
		return fullTextQueueKey, nil
	}
	return "", fmt.Errorf("unknown job kind %q", kind)
}
