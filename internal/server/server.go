// Package server exposes imports, batch reports and reviewer state changes
// as a JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"litreview/internal/importer"
	"litreview/internal/model"
	"litreview/internal/review"
	"litreview/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const defaultBatchLimit = 20

// Importer runs one import request.
type Importer interface {
	Process(ctx context.Context, req importer.Request) (*model.Batch, error)
}

type Server struct {
	store    store.Store
	importer Importer
	machine  *review.Machine
	logger   *zap.Logger
	router   *mux.Router
	server   *http.Server

	// mu serializes everything that mutates articles. It is shared with
	// the worker when both run in one process.
	mu *sync.Mutex
}

type Option func(*Server)

// WithArticleLock makes the server take mu around article writes.
func WithArticleLock(mu *sync.Mutex) Option {
	return func(s *Server) {
		if mu != nil {
			s.mu = mu
		}
	}
}

func NewServer(st store.Store, imp Importer, machine *review.Machine, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		store:    st,
		importer: imp,
		machine:  machine,
		logger:   logger,
		router:   mux.NewRouter(),
		mu:       &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/imports", s.handleImport).Methods("POST")
	api.HandleFunc("/batches", s.handleListBatches).Methods("GET")
	api.HandleFunc("/batches/{id}", s.handleBatch).Methods("GET")
	api.HandleFunc("/articles/{id:[0-9]+}", s.handleArticle).Methods("GET")
	api.HandleFunc("/articles/{id:[0-9]+}/states", s.handleAddState).Methods("POST")
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the HTTP server
func (s *Server) Start(port string) error {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // imports run synchronously
	}

	s.logger.Info("API server listening", zap.String("addr", port))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type batchResponse struct {
	*model.Batch
	Counts map[string]int `json:"counts"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importer.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	s.mu.Lock()
	batch, err := s.importer.Process(r.Context(), req)
	s.mu.Unlock()

	var verr *importer.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	if err != nil {
		s.logger.Error("Import failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Import failed")
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Batch: batch, Counts: batch.Counts()})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	batches, err := s.store.ListBatches(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list batches", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for i := range batches {
		out = append(out, batchResponse{Batch: &batches[i], Counts: batches[i].Counts()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	batch, err := s.store.GetBatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Batch not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load batch", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Batch: batch, Counts: batch.Counts()})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	article, ok := s.loadArticle(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, article)
}

type stateRequest struct {
	Value    string   `json:"value"`
	Topic    int      `json:"topic"`
	User     string   `json:"user"`
	Cycle    string   `json:"cycle,omitempty"`
	Comment  string   `json:"comment,omitempty"`
	Meeting  int      `json:"meeting,omitempty"`
	Decision string   `json:"decision,omitempty"`
	Deciders []string `json:"deciders,omitempty"`
}

func (s *Server) handleAddState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.loadArticle(w, r)
	if !ok {
		return
	}
	now := time.Now()
	state, err := s.machine.AddState(article, review.Transition{
		Value:   req.Value,
		Topic:   req.Topic,
		User:    req.User,
		Entered: now,
		Cycle:   req.Cycle,
		Comment: req.Comment,
	})
	if err == nil && req.Meeting != 0 {
		err = s.machine.AttachMeeting(state, req.Meeting)
	}
	if err == nil && req.Decision != "" {
		err = s.machine.AttachDecision(state, model.Decision{
			Decision:    req.Decision,
			MeetingDate: model.NextCycle(now),
		}, req.Deciders...)
	}
	if err != nil {
		if errors.Is(err, review.ErrUnknownState) || errors.Is(err, review.ErrUnknownTopic) || errors.Is(err, review.ErrAnnotationNotAllowed) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("State change failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "State change failed")
		return
	}

	if err := s.store.Save(r.Context(), article); err != nil {
		s.logger.Error("Failed to save article", zap.Int64("article_id", article.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save")
		return
	}
	s.logger.Info("State added",
		zap.Int64("article_id", article.ID),
		zap.Int("topic", req.Topic),
		zap.String("state", req.Value),
		zap.String("user", req.User))
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) loadArticle(w http.ResponseWriter, r *http.Request) (*model.Article, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ID")
		return nil, false
	}
	article, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Article not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to load article", zap.Int64("article_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return nil, false
	}
	return article, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
