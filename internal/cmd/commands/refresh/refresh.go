package refresh

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp-forge/esbulk/internal/cmd/base"
	"github.com/hashicorp-forge/esbulk/internal/config"
	"github.com/hashicorp-forge/esbulk/pkg/elasticsearch"
)

type Command struct {
	*base.Command

	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Refresh the search index"
}

func (c *Command) Help() string {
	return `Usage: esbulk refresh [options]

  This command refreshes the configured Elasticsearch index so that every
  indexed document is visible to searches.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("refresh", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "",
		"Path to the HCL configuration file. Settings may also be given with\n"+
			"["+config.EnvElasticsearchURL+"] and ["+config.EnvElasticsearchIndex+"]",
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := elasticsearch.NewClient(cfg.ClientConfig(c.Log))
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating elasticsearch client: %v", err))
		return 1
	}

	if err := client.Refresh(ctx); err != nil {
		c.UI.Error(fmt.Sprintf("error refreshing index: %v", err))
		return 1
	}

	c.UI.Output(fmt.Sprintf("Refreshed %s/%s", client.BaseURL(), client.Index()))
	return 0
}
