package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/cognicore/larder/pkg/larder/internalerr"
)

// Config holds all settings for an ingest run.
// Values come from an optional YAML file; LARDER_* environment variables
// override them.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Log        LogConfig        `yaml:"log"`

	// LexiconPath points to a unit lexicon YAML file. Empty selects the
	// built-in units.
	LexiconPath string `yaml:"lexicon_path" env:"LARDER_LEXICON" env-default:""`
}

// StoreConfig selects the persistence gateway.
type StoreConfig struct {
	Path    string `yaml:"path" env:"LARDER_DB" env-default:"larder.db"`
	Memory  bool   `yaml:"memory" env:"LARDER_MEMORY" env-default:"false"`
	// NoArchive skips storing raw HTML for later replay.
	NoArchive bool `yaml:"no_archive" env:"LARDER_NO_ARCHIVE" env-default:"false"`
}

// PipelineConfig holds stage queue and idle settings.
type PipelineConfig struct {
	QueueSize      int           `yaml:"queue_size" env:"LARDER_QUEUE_SIZE" env-default:"100" validate:"gte=1"`
	PollTimeout    time.Duration `yaml:"poll_timeout" env:"LARDER_POLL_TIMEOUT" env-default:"100ms" validate:"gt=0"`
	MaxIdleRetries int           `yaml:"max_idle_retries" env:"LARDER_MAX_IDLE_RETRIES" validate:"gte=0"`
	IdleBackoff    time.Duration `yaml:"idle_backoff" env:"LARDER_IDLE_BACKOFF" validate:"gte=0"`
	// ItemAttempts is how often the fetch stage tries an item whose failure
	// is transient.
	ItemAttempts int           `yaml:"item_attempts" env:"LARDER_ITEM_ATTEMPTS" env-default:"2" validate:"gte=1"`
	ItemBackoff  time.Duration `yaml:"item_backoff" env:"LARDER_ITEM_BACKOFF" validate:"gte=0"`
}

// FetchConfig configures the HTTP document source.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout" env:"LARDER_FETCH_TIMEOUT" env-default:"30s" validate:"gt=0"`
	RatePerHost  float64       `yaml:"rate_per_host" env:"LARDER_FETCH_RATE" validate:"gte=0"`
	Burst        int           `yaml:"burst" env:"LARDER_FETCH_BURST" env-default:"1" validate:"gte=1"`
	Retries      int           `yaml:"retries" env:"LARDER_FETCH_RETRIES" validate:"gte=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"LARDER_FETCH_RETRY_BACKOFF" validate:"gte=0"`
	UserAgent    string        `yaml:"user_agent" env:"LARDER_USER_AGENT" env-default:"larder/1.0 (+recipe ingest)" validate:"required"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"LARDER_FETCH_MAX_BODY" env-default:"10485760" validate:"gte=1"`
}

// SimilarityConfig configures ingredient deduplication.
type SimilarityConfig struct {
	Threshold float64 `yaml:"threshold" env:"LARDER_SIMILARITY_THRESHOLD" env-default:"0.8" validate:"gt=0,lte=1"`
	// Strict serializes resolution so concurrent extractors never create
	// two entities for near-identical names.
	Strict bool `yaml:"strict" env:"LARDER_SIMILARITY_STRICT" env-default:"false"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LARDER_LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"LARDER_LOG_FORMAT" env-default:"console" validate:"oneof=json console"`
}

// Load reads the YAML file at path, if any, and applies environment
// overrides and defaults. The result is validated.
//
// cleanenv applies env-default to any field left at zero, so settings for
// which zero is a valid choice are preset by defaults instead and keep an
// explicit 0 from the file or environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w: %w", path, internalerr.ErrInvalidConfig, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w: %w", internalerr.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Pipeline.MaxIdleRetries = 2
	cfg.Pipeline.IdleBackoff = time.Second
	cfg.Pipeline.ItemBackoff = 2 * time.Second
	cfg.Fetch.RatePerHost = 1
	cfg.Fetch.Retries = 3
	cfg.Fetch.RetryBackoff = 500 * time.Millisecond
	return cfg
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if !c.Store.Memory && c.Store.Path == "" {
		return fmt.Errorf("%w: store path is required unless memory is set", internalerr.ErrInvalidConfig)
	}
	return nil
}
