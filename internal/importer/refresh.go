package importer

import (
	"context"
	"fmt"
	"time"

	"litreview/internal/model"

	"go.uber.org/zap"
)

const refreshComment = "BATCH REPLACEMENT OF UPDATED ARTICLES FROM PUBMED"

// RefreshResult is the outcome of a refresh run. Dropped lists the ids the
// source no longer returns, from batches whose requests succeeded.
type RefreshResult struct {
	Batches []*model.Batch
	Dropped []string
}

// RefreshStale re-imports every stored article whose data was never
// checked or was last checked before since, one chunk per batch, and stamps
// DataChecked on each article the source returned. On error the result
// holds the batches that finished.
func (im *Importer) RefreshStale(ctx context.Context, since time.Time, user string) (*RefreshResult, error) {
	pmids, err := im.articles.StaleSourceIDs(ctx, model.SourcePubmed, since)
	if err != nil {
		return nil, fmt.Errorf("find stale articles: %w", err)
	}
	im.logger.Info("Articles queued for refresh", zap.Int("count", len(pmids)))

	size := im.source.ChunkSize()
	if size <= 0 {
		size = len(pmids)
	}
	res := &RefreshResult{}
	for start := 0; start < len(pmids); start += size {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(start+size, len(pmids))
		batch, err := im.Process(ctx, Request{
			ArticleIDs: pmids[start:end],
			User:       user,
			ImportType: model.ImportDataRefresh,
			Comment:    refreshComment,
		})
		if err != nil {
			return res, err
		}
		res.Batches = append(res.Batches, batch)
		if batch.Success {
			res.Dropped = append(res.Dropped, droppedIDs(batch)...)
		} else {
			im.logger.Warn("Refresh batch failed", zap.String("batch_id", batch.ID.String()), zap.Strings("messages", batch.Messages))
		}
		if err := im.stampChecked(ctx, batch); err != nil {
			return res, err
		}
	}
	if len(res.Dropped) > 0 {
		im.logger.Warn("Articles dropped by PubMed", zap.Strings("pmids", res.Dropped))
	}
	return res, nil
}

// droppedIDs lists the requested ids the source did not return.
func droppedIDs(batch *model.Batch) []string {
	var out []string
	for _, a := range batch.Actions {
		if a.Disposition == model.DispositionError && a.Message == missingMessage {
			out = append(out, a.SourceID)
		}
	}
	return out
}

func (im *Importer) stampChecked(ctx context.Context, batch *model.Batch) error {
	checked := im.now()
	seen := make(map[int64]bool)
	for _, a := range batch.Actions {
		if a.Disposition == model.DispositionError || a.ArticleID == 0 || seen[a.ArticleID] {
			continue
		}
		seen[a.ArticleID] = true
		article, err := im.articles.Get(ctx, a.ArticleID)
		if err != nil {
			return fmt.Errorf("load article %d: %w", a.ArticleID, err)
		}
		article.DataChecked = &checked
		if err := im.articles.Save(ctx, article); err != nil {
			return fmt.Errorf("stamp article %d: %w", a.ArticleID, err)
		}
	}
	return nil
}
