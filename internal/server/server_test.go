package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"litreview/internal/importer"
	"litreview/internal/model"
	"litreview/internal/review"
	"litreview/internal/store"
	"litreview/internal/taxonomy"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockImporter struct {
	Batch *model.Batch
	Err   error
	Got   importer.Request
}

func (m *MockImporter) Process(ctx context.Context, req importer.Request) (*model.Batch, error) {
	m.Got = req
	return m.Batch, m.Err
}

func newTestServer(t *testing.T, imp Importer) (*Server, *store.HybridStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := store.NewHybridStore(mr.Addr(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(st.Close)

	vocab, err := taxonomy.Parse([]byte(`
boards:
  - { id: 3, name: Adult Treatment }
topics:
  - { id: 7, name: Lung Cancer, board: 3 }
`))
	require.NoError(t, err)
	return NewServer(st, imp, review.NewMachine(vocab), zap.NewNop()), st
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Import(t *testing.T) {
	batch := model.NewBatch(time.Now())
	batch.AddAction("111", model.DispositionImported, 1, "")
	batch.AddAction("111", model.DispositionReviewReady, 1, "")
	imp := &MockImporter{Batch: batch}
	s, _ := newTestServer(t, imp)

	rec := do(t, s, "POST", "/api/imports", map[string]any{
		"article_ids": []string{"111"},
		"topic":       7,
		"cycle":       "2024-07-01",
		"user":        "editor",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"111"}, imp.Got.ArticleIDs)
	assert.Equal(t, 7, imp.Got.Topic)

	var got struct {
		ID           uuid.UUID      `json:"id"`
		ArticleCount int            `json:"article_count"`
		Counts       map[string]int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, batch.ID, got.ID)
	assert.Equal(t, 1, got.ArticleCount)
	assert.Equal(t, map[string]int{"imported": 1, "review_ready": 1}, got.Counts)
}

func TestServer_ImportValidationError(t *testing.T) {
	s, _ := newTestServer(t, &MockImporter{Err: &importer.ValidationError{Message: "No articles specified in import request."}})

	rec := do(t, s, "POST", "/api/imports", map[string]any{"user": "editor"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No articles specified in import request.")

	req := httptest.NewRequest("POST", "/api/imports", bytes.NewBufferString("{"))
	bad := httptest.NewRecorder()
	s.Handler().ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestServer_Batches(t *testing.T) {
	s, st := newTestServer(t, &MockImporter{})
	ctx := context.Background()

	batch := model.NewBatch(time.Now())
	batch.AddAction("5", model.DispositionDuplicate, 2, "")
	require.NoError(t, st.SaveBatch(ctx, batch))

	rec := do(t, s, "GET", "/api/batches/"+batch.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":1`)

	rec = do(t, s, "GET", "/api/batches?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/batches/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/batches/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/batches?limit=-1", nil).Code)
}

func TestServer_Article(t *testing.T) {
	s, st := newTestServer(t, &MockImporter{})
	article := &model.Article{Source: model.SourcePubmed, SourceID: "42", Title: "Answer"}
	require.NoError(t, st.Create(context.Background(), article))

	rec := do(t, s, "GET", "/api/articles/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Article
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "42", got.SourceID)

	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/articles/99", nil).Code)
}

func TestServer_AddState(t *testing.T) {
	s, st := newTestServer(t, &MockImporter{})
	ctx := context.Background()
	article := &model.Article{Source: model.SourcePubmed, SourceID: "42"}
	require.NoError(t, st.Create(ctx, article))

	rec := do(t, s, "POST", "/api/articles/1/states", map[string]any{
		"value": "on_agenda", "topic": 7, "user": "manager", "meeting": 12,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	saved, err := st.Get(ctx, article.ID)
	require.NoError(t, err)
	at := saved.Topic(7)
	require.NotNil(t, at)
	require.Len(t, at.States, 2, "published synthesized first")
	assert.Equal(t, "published", at.States[0].Value)
	assert.Equal(t, []int{12}, at.CurrentState().Meetings)
	assert.Equal(t, 3, at.CurrentState().Board)
}

func TestServer_AddStateWaitsForArticleLock(t *testing.T) {
	s, st := newTestServer(t, &MockImporter{})
	var mu sync.Mutex
	WithArticleLock(&mu)(s)
	require.NoError(t, st.Create(context.Background(), &model.Article{Source: model.SourcePubmed, SourceID: "42"}))

	mu.Lock()
	done := make(chan int, 1)
	go func() {
		rec := do(t, s, "POST", "/api/articles/1/states", map[string]any{"value": "published", "topic": 7, "user": "u"})
		done <- rec.Code
	}()

	select {
	case <-done:
		t.Fatal("state change ran while another writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	mu.Unlock()
	assert.Equal(t, http.StatusCreated, <-done)
}

func TestServer_AddStateRejected(t *testing.T) {
	s, st := newTestServer(t, &MockImporter{})
	ctx := context.Background()
	article := &model.Article{Source: model.SourcePubmed, SourceID: "42"}
	require.NoError(t, st.Create(ctx, article))

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown state", map[string]any{"value": "lost", "topic": 7, "user": "u"}},
		{"unknown topic", map[string]any{"value": "published", "topic": 70, "user": "u"}},
		{"meeting on wrong state", map[string]any{"value": "published", "topic": 7, "user": "u", "meeting": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/api/articles/1/states", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}

	saved, err := st.Get(ctx, article.ID)
	require.NoError(t, err)
	assert.Empty(t, saved.Topics, "rejected changes are not saved")
}
