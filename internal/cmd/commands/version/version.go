package version

import (
	"github.com/hashicorp-forge/esbulk/internal/cmd/base"
	"github.com/hashicorp-forge/esbulk/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the esbulk version"
}

func (c *Command) Help() string {
	return `Usage: esbulk version

  This command prints the esbulk version.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output("esbulk " + version.Version)
	return 0
}
