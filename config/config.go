// Package config holds the deployment configuration for the coherent core.
// Values load from a YAML file, then environment variables override
// (COHERENT_* prefix). Every tunable carries a default matching the
// behavior the core was built against, so a zero config is usable.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrBusCeilingInvalid        = errors.New("bus.maxInFlightTopics must be positive")
	ErrDebounceDelayInvalid     = errors.New("bus.debounceDelay must be positive")
	ErrCacheCapacityInvalid     = errors.New("cache.capacity must be positive")
	ErrCacheTTLInvalid          = errors.New("cache.ttl must be positive")
	ErrDedupTimeoutInvalid      = errors.New("dedup.timeout must be positive")
	ErrSeverityInvalid          = errors.New("filter.rejectSeverity must be positive")
	ErrDuplicateWindowInvalid   = errors.New("filter.duplicateWindow must be positive")
)

type Bus struct {
	DebounceDelay     time.Duration `yaml:"debounceDelay" env:"BUS_DEBOUNCE_DELAY"`
	MaxInFlightTopics int           `yaml:"maxInFlightTopics" env:"BUS_MAX_IN_FLIGHT_TOPICS"`
}

type Dedup struct {
	Timeout        time.Duration `yaml:"timeout" env:"DEDUP_TIMEOUT"`
	RetryDelay     time.Duration `yaml:"retryDelay" env:"DEDUP_RETRY_DELAY"`
	MaxRetries     int           `yaml:"maxRetries" env:"DEDUP_MAX_RETRIES"`
	SweepInterval  time.Duration `yaml:"sweepInterval" env:"DEDUP_SWEEP_INTERVAL"`
	StaleThreshold time.Duration `yaml:"staleThreshold" env:"DEDUP_STALE_THRESHOLD"`
}

type Cache struct {
	Capacity      int           `yaml:"capacity" env:"CACHE_CAPACITY"`
	TTL           time.Duration `yaml:"ttl" env:"CACHE_TTL"`
	SweepInterval time.Duration `yaml:"sweepInterval" env:"CACHE_SWEEP_INTERVAL"`
}

type Filter struct {
	RejectSeverity  int           `yaml:"rejectSeverity" env:"FILTER_REJECT_SEVERITY"`
	MaxURLs         int           `yaml:"maxUrls" env:"FILTER_MAX_URLS"`
	DuplicateWindow time.Duration `yaml:"duplicateWindow" env:"FILTER_DUPLICATE_WINDOW"`
	TermCacheTTL    time.Duration `yaml:"termCacheTTL" env:"FILTER_TERM_CACHE_TTL"`
	FetchRetries    int           `yaml:"fetchRetries" env:"FILTER_FETCH_RETRIES"`
	FetchBackoff    time.Duration `yaml:"fetchBackoff" env:"FILTER_FETCH_BACKOFF"`
	FuzzyVariations bool          `yaml:"fuzzyVariations" env:"FILTER_FUZZY_VARIATIONS"`
	LogRatePerSec   float64       `yaml:"logRatePerSec" env:"FILTER_LOG_RATE_PER_SEC"`
	LogBurst        int           `yaml:"logBurst" env:"FILTER_LOG_BURST"`
}

type Config struct {
	Bus    Bus    `yaml:"bus"`
	Dedup  Dedup  `yaml:"dedup"`
	Cache  Cache  `yaml:"cache"`
	Filter Filter `yaml:"filter"`
}

// Default returns the configuration the core ships with. The numeric
// values mirror the fixed literals of the original deployment.
func Default() *Config {
	return &Config{
		Bus: Bus{
			DebounceDelay:     300 * time.Millisecond,
			MaxInFlightTopics: 10,
		},
		Dedup: Dedup{
			Timeout:        10 * time.Second,
			RetryDelay:     500 * time.Millisecond,
			MaxRetries:     2,
			SweepInterval:  30 * time.Second,
			StaleThreshold: 60 * time.Second,
		},
		Cache: Cache{
			Capacity:      200,
			TTL:           10 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Filter: Filter{
			RejectSeverity:  3,
			MaxURLs:         2,
			DuplicateWindow: 30 * time.Minute,
			TermCacheTTL:    5 * time.Minute,
			FetchRetries:    3,
			FetchBackoff:    250 * time.Millisecond,
			FuzzyVariations: false,
			LogRatePerSec:   5,
			LogBurst:        10,
		},
	}
}

// LoadConfig reads the YAML file at configFile, applies COHERENT_*
// environment overrides, and validates. An empty path skips the file and
// loads defaults plus environment only.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, ErrConfigFileUnreadable
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, ErrConfigFileUnmarshallable
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "COHERENT_"}); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Bus.MaxInFlightTopics <= 0 {
		return ErrBusCeilingInvalid
	}
	if c.Bus.DebounceDelay <= 0 {
		return ErrDebounceDelayInvalid
	}
	if c.Cache.Capacity <= 0 {
		return ErrCacheCapacityInvalid
	}
	if c.Cache.TTL <= 0 {
		return ErrCacheTTLInvalid
	}
	if c.Dedup.Timeout <= 0 {
		return ErrDedupTimeoutInvalid
	}
	if c.Filter.RejectSeverity <= 0 {
		return ErrSeverityInvalid
	}
	if c.Filter.DuplicateWindow <= 0 {
		return ErrDuplicateWindowInvalid
	}
	return nil
}
