package base

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
)

// FlagSet wraps flag.FlagSet to render help the way every command prints it.
type FlagSet struct {
	*flag.FlagSet
}

// NewFlagSet returns a FlagSet wrapping f. Output is discarded so parse
// errors are reported once by the caller.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	f.SetOutput(new(bytes.Buffer))
	return &FlagSet{FlagSet: f}
}

// Help returns the rendered flag documentation.
func (f *FlagSet) Help() string {
	var out strings.Builder
	out.WriteString("\n\nOptions:\n")

	f.VisitAll(func(fl *flag.Flag) {
		fmt.Fprintf(&out, "\n  -%s", fl.Name)
		if fl.DefValue != "" {
			fmt.Fprintf(&out, "=%s", fl.DefValue)
		}
		for _, line := range strings.Split(fl.Usage, "\n") {
			fmt.Fprintf(&out, "\n      %s", line)
		}
		out.WriteString("\n")
	})

	return strings.TrimRight(out.String(), "\n")
}
