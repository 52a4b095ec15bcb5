package elasticsearch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp-forge/esbulk/pkg/bulk"
)

// ParseRefreshInterval parses the refresh_interval option.
//
// The empty string, "-1" and "immediate" select a synchronous refresh at
// the end of every bulk request. "async" and "immediate_async" select an
// asynchronous one. Anything else must be a time value ("30s", "1m",
// "500ms", "2d") and leaves refreshing to the engine at that interval.
func ParseRefreshInterval(s string) (bulk.RefreshPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "-1", "immediate":
		return bulk.RefreshPolicy{Mode: bulk.RefreshImmediate}, nil
	case "async", "immediate_async":
		return bulk.RefreshPolicy{Mode: bulk.RefreshImmediateAsync}, nil
	}

	d, err := parseTimeValue(strings.TrimSpace(s))
	if err != nil {
		return bulk.RefreshPolicy{}, fmt.Errorf("invalid refresh interval %q: %w", s, err)
	}
	if d <= 0 {
		return bulk.RefreshPolicy{}, fmt.Errorf("invalid refresh interval %q: must be positive", s)
	}
	return bulk.RefreshPolicy{Mode: bulk.RefreshBackground, Interval: d}, nil
}

// parseTimeValue accepts Go durations plus the "d" suffix Elasticsearch
// time values allow.
func parseTimeValue(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
