package base

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagSet_Help(t *testing.T) {
	var config, addr string
	f := NewFlagSet(flag.NewFlagSet("build", flag.ContinueOnError))
	f.StringVar(&config, "config", "", "Path to the configuration file")
	f.StringVar(&addr, "metrics-addr", ":9090", "Address to serve metrics on")

	assert.Equal(t, `

Options:

  -config
      Path to the configuration file

  -metrics-addr=:9090
      Address to serve metrics on`, f.Help())

	require.NoError(t, f.Parse([]string{"-config", "esbulk.hcl"}))
	assert.Equal(t, "esbulk.hcl", config)
	assert.Equal(t, ":9090", addr)
}
