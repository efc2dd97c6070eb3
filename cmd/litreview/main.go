package main

import (
	"fmt"
	"os"

	"litreview/internal/config"
	"litreview/internal/importer"
	"litreview/internal/logging"
	"litreview/internal/pubmed"
	"litreview/internal/store"
	"litreview/internal/taxonomy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	cfg        config.Config
	configPath string
	redisAddr  string
	badgerPath string
)

var rootCmd = &cobra.Command{
	Use:   "litreview",
	Short: "litreview - PubMed import and review-state tracking",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		// Flags override the config file
		if cmd.Flags().Changed("redis") {
			cfg.Redis.Addr = redisAddr
		}
		if cmd.Flags().Changed("badger") {
			cfg.Badger.Path = badgerPath
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Development)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

// app is the wiring shared by the commands that import.
type app struct {
	store    *store.HybridStore
	vocab    *taxonomy.Vocabulary
	importer *importer.Importer
}

func loadVocabulary() (*taxonomy.Vocabulary, error) {
	if cfg.TaxonomyPath == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(cfg.TaxonomyPath)
}

// openApp opens the store in full mode (Redis + Badger) and builds the
// importer.
func openApp() (*app, error) {
	vocab, err := loadVocabulary()
	if err != nil {
		return nil, err
	}
	st, err := store.NewHybridStore(cfg.Redis.Addr, cfg.Badger.Path)
	if err != nil {
		return nil, err
	}
	client := pubmed.NewClient(logger,
		pubmed.WithURL(cfg.PubMed.URL),
		pubmed.WithAPIKey(cfg.PubMed.APIKey),
		pubmed.WithChunkSize(cfg.PubMed.ChunkSize),
		pubmed.WithPause(cfg.PubMed.Pause),
		pubmed.WithTimeout(cfg.PubMed.Timeout),
	)
	imp := importer.New(client, st, st, vocab, logger, importer.WithJobs(st))
	return &app{store: st, vocab: vocab, importer: imp}, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "localhost:6379", "Address of Redis server")
	rootCmd.PersistentFlags().StringVar(&badgerPath, "badger", "./badger-data", "Path to BadgerDB data directory")

	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(batchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
