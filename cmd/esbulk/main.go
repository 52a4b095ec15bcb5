package main

import (
	"os"

	"github.com/hashicorp-forge/esbulk/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
