// Package window computes the voting eligibility window for a milestone
// from its lifecycle timestamps.
package window

import "time"

// Window is the time range during which votes on a milestone count toward
// settlement, in unix seconds.
type Window struct {
	StartUnix int64
	EndUnix   int64
}

// ClosedAt reports whether the window has closed as of now. A window ending
// exactly at now is closed.
func (w Window) ClosedAt(now time.Time) bool {
	return w.EndUnix <= now.Unix()
}

// Timestamps holds the milestone timestamps the resolver looks at. A nil
// field means the event has not happened.
type Timestamps struct {
	CompletedAt    *time.Time
	ReviewOpenedAt *time.Time
	DueAt          *time.Time
}

// Resolve computes the voting window for a milestone, or nil if the
// milestone has no window. A milestone that was never completed has no
// window. The window starts at review-open time if present, else the due
// time, else the completion time, and runs for cutoff past its anchor.
func Resolve(ts Timestamps, cutoff time.Duration) *Window {
	if ts.CompletedAt == nil {
		return nil
	}

	cutoffSecs := int64(cutoff / time.Second)

	var start, end int64
	switch {
	case ts.ReviewOpenedAt != nil:
		start = ts.ReviewOpenedAt.Unix()
		end = start + cutoffSecs
	case ts.DueAt != nil:
		start = ts.DueAt.Unix()
		end = ts.DueAt.Unix() + cutoffSecs
	default:
		start = ts.CompletedAt.Unix()
		end = ts.CompletedAt.Unix() + cutoffSecs
	}

	if end <= start {
		return nil
	}

	return &Window{StartUnix: start, EndUnix: end}
}
