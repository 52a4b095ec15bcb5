package base

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/esbulk/internal/config"
)

// Command is embedded by every esbulk command.
type Command struct {
	UI  cli.Ui
	Log hclog.Logger

	// Fs is where configuration files are read from (default: the OS).
	Fs afero.Fs
}

// LoadConfig loads the configuration file at path (which may be empty) and
// applies its log level to the command logger.
func (c *Command) LoadConfig(path string) (*config.Config, error) {
	fs := c.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	cfg, err := config.Load(fs, path)
	if err != nil {
		return nil, err
	}

	c.Log.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	return cfg, nil
}
