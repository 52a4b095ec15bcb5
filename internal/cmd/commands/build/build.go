package build

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hashicorp-forge/esbulk/internal/cmd/base"
	"github.com/hashicorp-forge/esbulk/internal/config"
	"github.com/hashicorp-forge/esbulk/pkg/bulk"
	"github.com/hashicorp-forge/esbulk/pkg/elasticsearch"
	"github.com/hashicorp-forge/esbulk/pkg/indexbuild"
	"github.com/hashicorp-forge/esbulk/pkg/source/postgres"
)

type Command struct {
	*base.Command

	flagConfig      string
	flagMetricsAddr string
}

func (c *Command) Synopsis() string {
	return "Rebuild a search index from a PostgreSQL table"
}

func (c *Command) Help() string {
	return `Usage: esbulk build [options]

  This command drops and recreates the configured Elasticsearch index, then
  streams every row of the configured PostgreSQL table into it.

  Interrupting the command terminates in-flight bulk requests and drops the
  partially built index.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("build", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "",
		"Path to the HCL configuration file. Settings may also be given with\n"+
			"["+config.EnvElasticsearchURL+"], ["+config.EnvElasticsearchIndex+"],\n"+
			"["+config.EnvDatabaseURL+"] and ["+config.EnvTable+"]",
	)
	f.StringVar(
		&c.flagMetricsAddr, "metrics-addr", "",
		"Address to serve Prometheus metrics on while building (e.g. :9090)",
	)

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}
	if err := cfg.Postgres.Validate(); err != nil {
		c.UI.Error(fmt.Sprintf("invalid configuration: %v", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := elasticsearch.NewClient(cfg.ClientConfig(c.Log))
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating elasticsearch client: %v", err))
		return 1
	}

	source, err := postgres.Connect(ctx, postgres.Config{
		URL:      cfg.Postgres.URL,
		Table:    cfg.Postgres.Table,
		MaxConns: cfg.Postgres.MaxConns,
		Logger:   c.Log,
	})
	if err != nil {
		c.UI.Error(fmt.Sprintf("error connecting to database: %v", err))
		return 1
	}
	defer source.Close()

	opts := []indexbuild.Option{
		indexbuild.WithIndex(client),
		indexbuild.WithSource(source),
		indexbuild.WithLogger(c.Log),
		indexbuild.WithBulkConfig(cfg.BulkConfig()),
		indexbuild.WithMapping(elasticsearch.DefaultMapping(cfg.IndexSettings())),
		indexbuild.WithRowsPerSecond(cfg.Postgres.RowsPerSecond),
	}

	if c.flagMetricsAddr != "" {
		shutdown, observe := c.serveMetrics(c.flagMetricsAddr, cfg.Elasticsearch.Index)
		defer shutdown()
		opts = append(opts, indexbuild.WithRequestObserver(observe))
	}

	builder, err := indexbuild.New(opts...)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating index builder: %v", err))
		return 1
	}

	c.UI.Info(fmt.Sprintf("Building index %q from table %q", cfg.Elasticsearch.Index, cfg.Postgres.Table))

	result, err := builder.Build(ctx)
	if err != nil {
		if errors.Is(err, bulk.ErrInterrupted) || ctx.Err() != nil {
			c.UI.Warn("Build interrupted, index dropped")
			return 1
		}
		c.UI.Error(fmt.Sprintf("error building index: %v", err))
		return 1
	}

	c.UI.Output(fmt.Sprintf(
		"Indexed %d of %d rows into %s/%s in %s (%d bulk requests, %d workers)",
		result.Indexed, result.Rows,
		client.BaseURL(), cfg.Elasticsearch.Index,
		result.Duration.Round(time.Millisecond),
		result.Stats.SuccessfulRequests, result.Stats.SpawnedWorkers,
	))
	return 0
}

// serveMetrics starts a metrics endpoint. observe registers the collector of
// the running bulk request.
func (c *Command) serveMetrics(addr, index string) (shutdown func(), observe func(*bulk.BulkRequest)) {
	reg := prometheus.NewRegistry()
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Log.Error("metrics server failed", "error", err)
		}
	}()
	c.Log.Info("serving metrics", "addr", addr)

	shutdown = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
	observe = func(req *bulk.BulkRequest) {
		if err := reg.Register(bulk.NewCollector(index, req.Stats)); err != nil {
			c.Log.Warn("failed to register bulk metrics", "error", err)
		}
	}
	return shutdown, observe
}
