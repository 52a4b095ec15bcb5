package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/esbulk/internal/cmd/base"
	"github.com/hashicorp-forge/esbulk/internal/cmd/commands/build"
	"github.com/hashicorp-forge/esbulk/internal/cmd/commands/refresh"
	"github.com/hashicorp-forge/esbulk/internal/cmd/commands/version"
)

// Commands is the mapping of all available esbulk commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := &base.Command{
		Log: log,
		UI:  ui,
	}

	Commands = map[string]cli.CommandFactory{
		"build": func() (cli.Command, error) {
			return &build.Command{Command: b}, nil
		},
		"refresh": func() (cli.Command, error) {
			return &refresh.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
	}
}
