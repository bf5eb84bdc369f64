// Package config holds the federation tunables of a tube instance.
//
// Values start from Default, are overlaid by an optional YAML file, and
// finally by TUBE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   Database   `yaml:"database"`
	Federation Federation `yaml:"federation"`
	Scores     Scores     `yaml:"scores"`
	Delivery   Delivery   `yaml:"delivery"`
	Jobs       Jobs       `yaml:"jobs"`
	Redundancy Redundancy `yaml:"redundancy"`
}

// Database sizes the connection pool.
type Database struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type Federation struct {
	// ActorRefreshInterval is how long a remote actor is trusted before it is fetched again.
	ActorRefreshInterval time.Duration `yaml:"actor_refresh_interval"`
	// ActorCacheSize is the number of actors held in memory.
	ActorCacheSize int `yaml:"actor_cache_size"`
	// ActorCacheTTL bounds how long an actor stays in memory.
	ActorCacheTTL time.Duration `yaml:"actor_cache_ttl"`
	// ManualApproval leaves inbound follows pending.
	ManualApproval bool `yaml:"manual_approval"`
	// AcceptRedundancyFrom is anybody, followings or nobody. With
	// followings only instances this instance follows may mirror its videos.
	AcceptRedundancyFrom string `yaml:"accept_redundancy_from"`
}

type Scores struct {
	Base          int32         `yaml:"base"`
	Max           int32         `yaml:"max"`
	Bonus         int32         `yaml:"bonus"`
	Penalty       int32         `yaml:"penalty"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Delivery struct {
	// BroadcastConcurrency bounds the number of inboxes a single broadcast job posts to at once.
	BroadcastConcurrency int           `yaml:"broadcast_concurrency"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	// RateLimit is the number of outbound requests per second, 0 is unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// Jobs maps a job type to its configuration.
type Jobs map[string]Job

// UnmarshalYAML decodes each entry onto the job already configured under
// its name so a file only lists the fields it changes.
func (j *Jobs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs: line %d: expected a mapping", value.Line)
	}
	if *j == nil {
		*j = make(Jobs)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		job, ok := (*j)[name]
		if !ok {
			job = defaultJob
		}
		if err := value.Content[i+1].Decode(&job); err != nil {
			return fmt.Errorf("jobs: %s: %w", name, err)
		}
		(*j)[name] = job
	}
	return nil
}

var defaultJob = Job{Concurrency: 1, Attempts: 1}

// Job configures one job type.
type Job struct {
	Concurrency int    `yaml:"concurrency"`
	Attempts    uint32 `yaml:"attempts"`
	// TTL of zero means the job never expires.
	TTL time.Duration `yaml:"ttl"`
}

type Redundancy struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	RandomizedFactor int           `yaml:"randomized_factor"`
	TrendingInterval time.Duration `yaml:"trending_interval"`
	// Storage is the directory mirrored files are written to.
	Storage    string     `yaml:"storage"`
	Strategies []Strategy `yaml:"strategies"`
}

type Strategy struct {
	Name        string        `yaml:"name"`
	MinLifetime time.Duration `yaml:"min_lifetime"`
	// Size is the byte budget of the strategy, 0 is unbounded.
	Size     int64 `yaml:"size"`
	MinViews int64 `yaml:"min_views"`
}

// Default returns the built in configuration.
func Default() *Config {
	return &Config{
		Database: Database{
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Federation: Federation{
			ActorRefreshInterval: 48 * time.Hour,
			ActorCacheSize:       1000,
			ActorCacheTTL:        10 * time.Minute,
			AcceptRedundancyFrom: "anybody",
		},
		Scores: Scores{
			Base:          1000,
			Max:           10000,
			Bonus:         10,
			Penalty:       -10,
			SweepInterval: time.Hour,
		},
		Delivery: Delivery{
			BroadcastConcurrency: 30,
			RequestTimeout:       7 * time.Second,
		},
		Jobs: Jobs{
			"activitypub-http-broadcast":          {Concurrency: 1, Attempts: 1, TTL: 10 * time.Minute},
			"activitypub-http-broadcast-parallel": {Concurrency: 30, Attempts: 1, TTL: 10 * time.Minute},
			"activitypub-http-unicast":            {Concurrency: 30, Attempts: 1, TTL: 10 * time.Minute},
			"activitypub-follow":                  {Concurrency: 1, Attempts: 5, TTL: 10 * time.Minute},
			"activitypub-inbox":                   {Concurrency: 4, Attempts: 3},
			"video-redundancy":                    {Concurrency: 1, Attempts: 1},
		},
		Redundancy: Redundancy{
			CheckInterval:    time.Hour,
			RandomizedFactor: 5,
			TrendingInterval: 7 * 24 * time.Hour,
			Storage:          "redundancy",
		},
	}
}

// Load returns Default overlaid with the YAML file at path, if path is not
// empty, and the environment. The file is decoded onto the defaults so
// keys it sets to zero stay zero.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := cfg.fromEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Job returns the configuration for the named job type.
func (c *Config) Job(name string) Job {
	job, ok := c.Jobs[name]
	if !ok {
		return defaultJob
	}
	return job
}

// Strategy returns the named redundancy strategy.
func (c *Config) Strategy(name string) (Strategy, bool) {
	for _, s := range c.Redundancy.Strategies {
		if s.Name == name {
			return s, true
		}
	}
	return Strategy{}, false
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if c.Scores.Max < c.Scores.Base {
		return fmt.Errorf("scores: max %d is below base %d", c.Scores.Max, c.Scores.Base)
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database: max_open_conns must be positive")
	}
	if c.Redundancy.RandomizedFactor < 1 {
		return fmt.Errorf("redundancy: randomized_factor must be positive")
	}
	switch c.Federation.AcceptRedundancyFrom {
	case "anybody", "followings", "nobody":
	default:
		return fmt.Errorf("federation: unknown accept_redundancy_from %q", c.Federation.AcceptRedundancyFrom)
	}
	for name, job := range c.Jobs {
		if job.Concurrency < 1 || job.Attempts < 1 {
			return fmt.Errorf("jobs: %s: concurrency and attempts must be positive", name)
		}
	}
	for _, s := range c.Redundancy.Strategies {
		switch s.Name {
		case "most-views", "trending", "recently-added":
		default:
			return fmt.Errorf("redundancy: unknown strategy %q", s.Name)
		}
	}
	return nil
}

func (c *Config) fromEnv(lookup func(string) (string, bool)) error {
	durations := map[string]*time.Duration{
		"TUBE_ACTOR_REFRESH_INTERVAL":    &c.Federation.ActorRefreshInterval,
		"TUBE_SCORE_SWEEP_INTERVAL":      &c.Scores.SweepInterval,
		"TUBE_REQUEST_TIMEOUT":           &c.Delivery.RequestTimeout,
		"TUBE_REDUNDANCY_CHECK_INTERVAL": &c.Redundancy.CheckInterval,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	if v, ok := lookup("TUBE_BROADCAST_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TUBE_BROADCAST_CONCURRENCY: %w", err)
		}
		c.Delivery.BroadcastConcurrency = n
	}
	if v, ok := lookup("TUBE_REDUNDANCY_STORAGE"); ok {
		c.Redundancy.Storage = v
	}
	if v, ok := lookup("TUBE_ACCEPT_REDUNDANCY_FROM"); ok {
		c.Federation.AcceptRedundancyFrom = v
	}
	if v, ok := lookup("TUBE_MANUAL_APPROVAL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TUBE_MANUAL_APPROVAL: %w", err)
		}
		c.Federation.ManualApproval = b
	}
	return nil
}
