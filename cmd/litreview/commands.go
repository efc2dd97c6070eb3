package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"litreview/internal/importer"
	"litreview/internal/model"
	"litreview/internal/review"
	"litreview/internal/server"
	"litreview/internal/store"
	"litreview/internal/worker"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const gcInterval = 10 * time.Minute

func importCmd() *cobra.Command {
	var (
		req     importer.Request
		idsFile string
	)
	cmd := &cobra.Command{
		Use:   "import [pmid...]",
		Short: "Import PubMed articles and print the batch report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := append([]string{}, args...)
			if idsFile != "" {
				fromFile, err := readIDs(idsFile)
				if err != nil {
					return err
				}
				ids = append(ids, fromFile...)
			}
			req.ArticleIDs = ids

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			batch, err := a.importer.Process(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(batchReport(batch))
		},
	}
	f := cmd.Flags()
	f.StringVar(&idsFile, "file", "", "File of PubMed IDs, whitespace or comma separated")
	f.IntVar(&req.Topic, "topic", 0, "Review topic id")
	f.StringVar(&req.Cycle, "cycle", "", "Review cycle (YYYY-MM-DD, first of month)")
	f.StringVar(&req.User, "user", os.Getenv("USER"), "Importing user")
	f.StringVar(&req.ImportType, "type", "", "Import type code (R, F, S, D, I)")
	f.StringVar(&req.Comment, "comment", "", "Batch comment")
	f.BoolVar(&req.Test, "test", false, "Dry run: fetch and classify without saving")
	f.BoolVar(&req.OverrideNotList, "override-not-list", false, "Ignore the board's NOT list")
	f.BoolVar(&req.SpecialSearch, "special-search", false, "Tag articles as special search results")
	f.BoolVar(&req.HighPriority, "high-priority", false, "Tag articles as high priority")
	f.BoolVar(&req.CoreJournals, "core-journals", false, "Core journal search: tag and mark published")
	f.BoolVar(&req.FastTrack, "fast-track", false, "Fast-track new articles to --placement")
	f.StringVar(&req.FastTrackComment, "fast-track-comment", "", "Comment for the fast-track state")
	f.StringVar(&req.Placement, "placement", "", "State for fast-tracked articles, or 'bma'")
	f.StringVar(&req.BMADisposition, "bma-disposition", "", "State used when --placement=bma")
	f.IntVar(&req.Meeting, "meeting", 0, "Meeting for on_agenda placement")
	f.StringVar(&req.Decision, "decision", "", "Board decision for final_board_decision placement")
	f.StringVar(&req.TopicComment, "topic-comment", "", "Topic manager comment")
	f.StringSliceVar(&req.InternalTags, "internal-tag", nil, "Internal tag (repeatable)")
	f.StringVar(&req.InternalComment, "internal-comment", "", "Internal comment")
	f.StringVar(&req.FullTextFile, "full-text-file", "", "Reference to an uploaded full-text file")
	f.StringVar(&req.FullTextURL, "full-text-url", "", "URL the worker retrieves the full text from")
	f.BoolVar(&req.QueueFollowup, "queue-followup", false, "Queue related articles for a follow-up import")
	return cmd
}

func readIDs(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		ids = append(ids, strings.FieldsFunc(scanner.Text(), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})...)
	}
	return ids, scanner.Err()
}

func refreshCmd() *cobra.Command {
	var (
		age  time.Duration
		user string
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-import articles whose PubMed data has not been checked recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			res, err := a.importer.RefreshStale(ctx, time.Now().Add(-age), user)
			if res == nil {
				return err
			}
			refreshed := 0
			for _, b := range res.Batches {
				refreshed += b.ArticleCount
			}
			logger.Info("Refresh finished",
				zap.Int("batches", len(res.Batches)),
				zap.Int("articles", refreshed),
				zap.Int("dropped", len(res.Dropped)))
			for _, pmid := range res.Dropped {
				fmt.Println(pmid)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&age, "older-than", 30*24*time.Hour, "Refresh articles last checked before this long ago")
	cmd.Flags().StringVar(&user, "user", "scheduler", "User recorded on the refresh batches")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the background worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			// Initialize Store (FULL MODE - Redis + Badger)
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			// One lock for every article writer in this process.
			var articles sync.Mutex
			w := worker.NewWorker(a.store, a.importer, logger, worker.WithArticleLock(&articles))
			go w.Start(ctx)
			go runGC(ctx, a.store)

			srv := server.NewServer(a.store, a.importer, review.NewMachine(a.vocab), logger,
				server.WithArticleLock(&articles))
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(cfg.Server.Port)
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				logger.Info("Shutting down...")
			}

			shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
			defer done()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Error("Server shutdown failed", zap.Error(err))
			}
			logger.Info("Goodbye!")
			return nil
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the background worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.store.Close()

			go runGC(ctx, a.store)
			worker.NewWorker(a.store, a.importer, logger).Start(ctx)
			return nil
		},
	}
}

// runGC periodically reclaims Badger value-log space.
func runGC(ctx context.Context, st *store.HybridStore) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.RunGC(); err != nil {
				logger.Warn("Badger GC failed", zap.Error(err))
			}
		}
	}
}

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect import batch reports",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			// CLIENT MODE - Redis only, so a running server keeps the Badger lock.
			st, err := store.NewHybridStore(cfg.Redis.Addr, "")
			if err != nil {
				return err
			}
			defer st.Close()

			batches, err := st.ListBatches(context.Background(), limit)
			if err != nil {
				return err
			}
			for _, b := range batches {
				fmt.Printf("%s  %s  type=%s topic=%d articles=%d success=%t\n",
					b.ID, b.Imported.Format(time.DateTime), b.ImportType, b.Topic, b.ArticleCount, b.Success)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Number of batches to show")

	show := &cobra.Command{
		Use:   "show [batch-id]",
		Short: "Print one batch report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}
			st, err := store.NewHybridStore(cfg.Redis.Addr, "")
			if err != nil {
				return err
			}
			defer st.Close()

			batch, err := st.GetBatch(context.Background(), id)
			if err != nil {
				return err
			}
			return printJSON(batchReport(batch))
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

type report struct {
	*model.Batch
	Counts map[string]int `json:"counts"`
}

func batchReport(b *model.Batch) report {
	return report{Batch: b, Counts: b.Counts()}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
