package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix      = "LITREVIEW_"
	envFileEnv     = envPrefix + "ENV_FILE"
	defaultEnvFile = ".env"
)

// Config holds the settings shared by the CLI, the API server and the
// worker.
type Config struct {
	Redis        RedisConfig  `yaml:"redis"`
	Badger       BadgerConfig `yaml:"badger"`
	PubMed       PubMedConfig `yaml:"pubmed"`
	Server       ServerConfig `yaml:"server"`
	Log          LogConfig    `yaml:"log"`
	TaxonomyPath string       `yaml:"taxonomy_path"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type BadgerConfig struct {
	Path string `yaml:"path"`
}

// PubMedConfig configures the efetch client.
type PubMedConfig struct {
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	ChunkSize int           `yaml:"chunk_size"`
	Pause     time.Duration `yaml:"pause"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Badger: BadgerConfig{Path: "./badger-data"},
		PubMed: PubMedConfig{
			URL:       "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi",
			ChunkSize: 100,
			Pause:     500 * time.Millisecond,
			Timeout:   2 * time.Minute,
		},
		Server: ServerConfig{Port: "8080"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, an optional .env file, the
// YAML file at path (skipped when path is empty) and LITREVIEW_*
// environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := loadDotEnv(); err != nil {
		return cfg, err
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// loadDotEnv reads LITREVIEW_ENV_FILE, or ./.env when it exists. Values
// already in the environment win.
func loadDotEnv() error {
	path := os.Getenv(envFileEnv)
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"REDIS_ADDR":    &c.Redis.Addr,
		"BADGER_PATH":   &c.Badger.Path,
		"PUBMED_URL":    &c.PubMed.URL,
		"NCBI_API_KEY":  &c.PubMed.APIKey,
		"PORT":          &c.Server.Port,
		"LOG_LEVEL":     &c.Log.Level,
		"TAXONOMY_PATH": &c.TaxonomyPath,
	}
	for name, dst := range strs {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(envPrefix + "PUBMED_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sPUBMED_CHUNK_SIZE: %w", envPrefix, err)
		}
		c.PubMed.ChunkSize = n
	}
	durations := map[string]*time.Duration{
		"PUBMED_PAUSE":   &c.PubMed.Pause,
		"PUBMED_TIMEOUT": &c.PubMed.Timeout,
	}
	for name, dst := range durations {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv(envPrefix + "LOG_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sLOG_DEVELOPMENT: %w", envPrefix, err)
		}
		c.Log.Development = b
	}
	return nil
}

// Validate rejects settings the services cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.PubMed.URL == "" {
		errs = append(errs, errors.New("pubmed.url is required"))
	}
	if c.PubMed.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("pubmed.chunk_size must be positive, got %d", c.PubMed.ChunkSize))
	}
	if c.PubMed.Pause < 0 {
		errs = append(errs, errors.New("pubmed.pause must not be negative"))
	}
	if c.PubMed.Timeout <= 0 {
		errs = append(errs, errors.New("pubmed.timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
