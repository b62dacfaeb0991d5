// Package window computes the reporting interval for a run.
package window

import (
	"fmt"
	"time"
)

// Window is the inclusive range [Start, End] of submission timestamps a
// report covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// Compute returns the window ending at asOf and reaching intervalDays
// calendar days back. A zero interval yields a single instant.
func Compute(asOf time.Time, intervalDays int) (Window, error) {
	if intervalDays < 0 {
		return Window{}, fmt.Errorf("window: interval must not be negative, got %d days", intervalDays)
	}
	return Window{
		Start: asOf.AddDate(0, 0, -intervalDays),
		End:   asOf,
	}, nil
}

// Contains reports whether t falls inside the window, both ends included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.DateTime), w.End.Format(time.DateTime))
}
