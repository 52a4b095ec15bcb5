package elasticsearch

import (
	"strconv"
	"time"

	"github.com/hashicorp-forge/esbulk/pkg/bulk"
)

// Default index settings.
const (
	DefaultShards   = 5
	DefaultReplicas = 0
)

// IndexSettings are the index-level settings applied on creation.
type IndexSettings struct {
	Shards   int
	Replicas int
	Refresh  bulk.RefreshPolicy
}

// DefaultMapping returns the create-index body: settings plus a dynamic
// mapping that types the version stamp fields every document carries.
func DefaultMapping(settings IndexSettings) map[string]any {
	shards := settings.Shards
	if shards <= 0 {
		shards = DefaultShards
	}
	replicas := settings.Replicas
	if replicas < 0 {
		replicas = DefaultReplicas
	}

	stamp := func(typ string) map[string]any {
		return map[string]any{"type": typ}
	}

	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
			"refresh_interval":   RefreshIntervalSetting(settings.Refresh),
		},
		"mappings": map[string]any{
			"dynamic": true,
			"properties": map[string]any{
				bulk.FieldCtid: stamp("unsigned_long"),
				bulk.FieldCmin: stamp("integer"),
				bulk.FieldCmax: stamp("integer"),
				bulk.FieldXmin: stamp("long"),
				bulk.FieldXmax: stamp("long"),
			},
		},
	}
}

// RefreshIntervalSetting renders policy as an index.refresh_interval value.
// Immediate modes disable the engine's periodic refresh since Finish
// refreshes explicitly.
func RefreshIntervalSetting(policy bulk.RefreshPolicy) string {
	if policy.Mode != bulk.RefreshBackground {
		return "-1"
	}
	if policy.Interval <= 0 {
		return "1s"
	}
	return formatTimeValue(policy.Interval)
}

// formatTimeValue renders d in the largest unit that represents it exactly.
func formatTimeValue(d time.Duration) string {
	units := []struct {
		suffix string
		size   time.Duration
	}{
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
		{"ms", time.Millisecond},
	}
	for _, u := range units {
		if d%u.size == 0 {
			return strconv.FormatInt(int64(d/u.size), 10) + u.suffix
		}
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
