// Package config loads the esbulk configuration from an HCL file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/esbulk/pkg/bulk"
	"github.com/hashicorp-forge/esbulk/pkg/elasticsearch"
)

// Environment variables that override the configuration file.
const (
	EnvElasticsearchURL    = "ESBULK_ELASTICSEARCH_URL"
	EnvElasticsearchIndex  = "ESBULK_ELASTICSEARCH_INDEX"
	EnvElasticsearchAPIKey = "ESBULK_ELASTICSEARCH_API_KEY"
	EnvDatabaseURL         = "ESBULK_DATABASE_URL"
	EnvTable               = "ESBULK_TABLE"
	EnvLogLevel            = "ESBULK_LOG_LEVEL"
)

// Config contains the esbulk configuration.
type Config struct {
	// LogLevel is the log level (trace, debug, info, warn, error).
	LogLevel string `hcl:"log_level,optional" json:"log_level"`

	// Elasticsearch configures the target index.
	Elasticsearch *Elasticsearch `hcl:"elasticsearch,block" json:"elasticsearch"`

	// Bulk configures the bulk request pipeline.
	Bulk *Bulk `hcl:"bulk,block" json:"bulk"`

	// Postgres configures the source table.
	Postgres *Postgres `hcl:"postgres,block" json:"postgres"`
}

// Elasticsearch configures the target index.
type Elasticsearch struct {
	URL             string `hcl:"url,optional" json:"url"`
	Index           string `hcl:"index,optional" json:"index"`
	Username        string `hcl:"username,optional" json:"username"`
	Password        string `hcl:"password,optional" json:"-"`
	APIKey          string `hcl:"api_key,optional" json:"-"`
	Shards          int    `hcl:"shards,optional" json:"shards"`
	Replicas        int    `hcl:"replicas,optional" json:"replicas"`
	RefreshInterval string `hcl:"refresh_interval,optional" json:"refresh_interval"`
}

// Bulk configures the bulk request pipeline.
type Bulk struct {
	Concurrency    int    `hcl:"concurrency,optional" json:"concurrency"`
	QueueSize      int    `hcl:"queue_size,optional" json:"queue_size"`
	BatchSizeBytes int    `hcl:"batch_size_bytes,optional" json:"batch_size_bytes"`
	MaxDocs        int    `hcl:"max_docs,optional" json:"max_docs"`
	WaitTimeout    string `hcl:"wait_timeout,optional" json:"wait_timeout"`
	AllowRefresh   bool   `hcl:"allow_refresh,optional" json:"allow_refresh"`
}

// Postgres configures the source table.
type Postgres struct {
	URL           string `hcl:"url,optional" json:"url"`
	Table         string `hcl:"table,optional" json:"table"`
	MaxConns      int    `hcl:"max_conns,optional" json:"max_conns"`
	RowsPerSecond int    `hcl:"rows_per_second,optional" json:"rows_per_second"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Elasticsearch: &Elasticsearch{
			URL:      "http://localhost:9200",
			Shards:   elasticsearch.DefaultShards,
			Replicas: elasticsearch.DefaultReplicas,
		},
		Bulk: &Bulk{
			QueueSize:      bulk.DefaultQueueSize,
			BatchSizeBytes: bulk.DefaultBatchSizeBytes,
			MaxDocs:        bulk.DefaultMaxDocs,
			WaitTimeout:    bulk.DefaultWaitTimeout.String(),
		},
		Postgres: &Postgres{},
	}
}

// Load reads the configuration file at path from fs, if path is not empty,
// then applies environment overrides and validates the result.
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat configuration file: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}

		src, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}

		var file Config
		if err := hclsimple.Decode(path, src, nil, &file); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file: %w", err)
		}
		cfg.merge(&file)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge copies every value set in file over the defaults.
func (c *Config) merge(file *Config) {
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}

	if es := file.Elasticsearch; es != nil {
		setString(&c.Elasticsearch.URL, es.URL)
		setString(&c.Elasticsearch.Index, es.Index)
		setString(&c.Elasticsearch.Username, es.Username)
		setString(&c.Elasticsearch.Password, es.Password)
		setString(&c.Elasticsearch.APIKey, es.APIKey)
		setString(&c.Elasticsearch.RefreshInterval, es.RefreshInterval)
		setInt(&c.Elasticsearch.Shards, es.Shards)
		setInt(&c.Elasticsearch.Replicas, es.Replicas)
	}

	if b := file.Bulk; b != nil {
		setInt(&c.Bulk.Concurrency, b.Concurrency)
		setInt(&c.Bulk.QueueSize, b.QueueSize)
		setInt(&c.Bulk.BatchSizeBytes, b.BatchSizeBytes)
		setInt(&c.Bulk.MaxDocs, b.MaxDocs)
		setString(&c.Bulk.WaitTimeout, b.WaitTimeout)
		c.Bulk.AllowRefresh = b.AllowRefresh
	}

	if pg := file.Postgres; pg != nil {
		setString(&c.Postgres.URL, pg.URL)
		setString(&c.Postgres.Table, pg.Table)
		setInt(&c.Postgres.MaxConns, pg.MaxConns)
		setInt(&c.Postgres.RowsPerSecond, pg.RowsPerSecond)
	}
}

func (c *Config) applyEnv() {
	setString(&c.Elasticsearch.URL, os.Getenv(EnvElasticsearchURL))
	setString(&c.Elasticsearch.Index, os.Getenv(EnvElasticsearchIndex))
	setString(&c.Elasticsearch.APIKey, os.Getenv(EnvElasticsearchAPIKey))
	setString(&c.Postgres.URL, os.Getenv(EnvDatabaseURL))
	setString(&c.Postgres.Table, os.Getenv(EnvTable))
	setString(&c.LogLevel, os.Getenv(EnvLogLevel))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Validate checks the log level and the elasticsearch and bulk blocks. The
// postgres block is only needed by builds and is checked by
// Postgres.Validate.
func (c *Config) Validate() error {
	var result *multierror.Error

	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	if err := c.Elasticsearch.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("elasticsearch: %w", err))
	}
	if err := c.Bulk.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("bulk: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Validate validates the elasticsearch block.
func (e *Elasticsearch) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.URL, validation.Required, is.RequestURL),
		validation.Field(&e.Index, validation.Required, validation.By(indexName)),
		validation.Field(&e.Shards, validation.Min(0)),
		validation.Field(&e.Replicas, validation.Min(0)),
		validation.Field(&e.RefreshInterval, validation.By(func(any) error {
			_, err := elasticsearch.ParseRefreshInterval(e.RefreshInterval)
			return err
		})),
	)
}

// indexName rejects names Elasticsearch refuses for indices.
func indexName(value any) error {
	name, _ := value.(string)
	if name != strings.ToLower(name) {
		return fmt.Errorf("must be lowercase")
	}
	if strings.ContainsAny(name, `\/*?"<>| ,#:`) {
		return fmt.Errorf("must not contain special characters")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, "_") || strings.HasPrefix(name, "+") {
		return fmt.Errorf("must not start with '-', '_' or '+'")
	}
	return nil
}

// Validate validates the bulk block.
func (b *Bulk) Validate() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.Concurrency, validation.Min(0)),
		validation.Field(&b.QueueSize, validation.Min(0)),
		validation.Field(&b.BatchSizeBytes, validation.Min(0)),
		validation.Field(&b.MaxDocs, validation.Min(0)),
		validation.Field(&b.WaitTimeout, validation.By(func(any) error {
			if b.WaitTimeout == "" {
				return nil
			}
			d, err := time.ParseDuration(b.WaitTimeout)
			if err != nil {
				return err
			}
			if d <= 0 {
				return fmt.Errorf("must be positive")
			}
			return nil
		})),
	)
}

// Validate validates the postgres block.
func (p *Postgres) Validate() error {
	if err := validation.ValidateStruct(p,
		validation.Field(&p.URL, validation.Required),
		validation.Field(&p.Table, validation.Required),
		validation.Field(&p.MaxConns, validation.Min(0)),
		validation.Field(&p.RowsPerSecond, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// RefreshPolicy returns the parsed refresh_interval.
func (e *Elasticsearch) RefreshPolicy() bulk.RefreshPolicy {
	// Validated by Load.
	policy, _ := elasticsearch.ParseRefreshInterval(e.RefreshInterval)
	return policy
}

// ClientConfig returns the elasticsearch client configuration.
func (c *Config) ClientConfig(logger hclog.Logger) elasticsearch.Config {
	return elasticsearch.Config{
		URL:      c.Elasticsearch.URL,
		Index:    c.Elasticsearch.Index,
		Username: c.Elasticsearch.Username,
		Password: c.Elasticsearch.Password,
		APIKey:   c.Elasticsearch.APIKey,
		Logger:   logger,
	}
}

// IndexSettings returns the settings the index is created with.
func (c *Config) IndexSettings() elasticsearch.IndexSettings {
	return elasticsearch.IndexSettings{
		Shards:   c.Elasticsearch.Shards,
		Replicas: c.Elasticsearch.Replicas,
		Refresh:  c.Elasticsearch.RefreshPolicy(),
	}
}

// BulkConfig returns the bulk request configuration. The Indexer and
// Logger are left for the caller.
func (c *Config) BulkConfig() bulk.Config {
	wait, _ := time.ParseDuration(c.Bulk.WaitTimeout)
	return bulk.Config{
		QueueSize:      c.Bulk.QueueSize,
		Concurrency:    c.Bulk.Concurrency,
		BatchSizeBytes: c.Bulk.BatchSizeBytes,
		MaxDocs:        c.Bulk.MaxDocs,
		WaitTimeout:    wait,
		AllowRefresh:   c.Bulk.AllowRefresh,
		RefreshPolicy:  c.Elasticsearch.RefreshPolicy(),
	}
}
