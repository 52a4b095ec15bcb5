package bulk

import (
	"fmt"
	"time"
)

// RefreshMode selects how Finish makes indexed documents visible.
type RefreshMode int

const (
	// RefreshImmediate refreshes synchronously once all workers drained.
	RefreshImmediate RefreshMode = iota

	// RefreshImmediateAsync refreshes on a detached goroutine. Its outcome
	// is only logged.
	RefreshImmediateAsync

	// RefreshBackground leaves refreshing to the engine's refresh interval.
	RefreshBackground
)

func (m RefreshMode) String() string {
	switch m {
	case RefreshImmediate:
		return "immediate"
	case RefreshImmediateAsync:
		return "immediate_async"
	case RefreshBackground:
		return "background"
	default:
		return fmt.Sprintf("refresh_mode(%d)", int(m))
	}
}

// RefreshPolicy is the index's refresh configuration.
type RefreshPolicy struct {
	Mode RefreshMode

	// Interval is the engine-side refresh interval. Only meaningful for
	// RefreshBackground.
	Interval time.Duration
}

func (p RefreshPolicy) String() string {
	if p.Mode == RefreshBackground && p.Interval > 0 {
		return fmt.Sprintf("%s(%s)", p.Mode, p.Interval)
	}
	return p.Mode.String()
}

func refreshError(err error) error {
	return &Error{Op: "Refresh", Err: ErrRefresh, Msg: err.Error()}
}
