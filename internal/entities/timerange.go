package entities

import (
	"time"

	"github.com/cockroachdb/errors"
)

// TimeRange is one half-open window [From, To) used by the report
// operations. Zero From or To leaves that side unbounded.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Validate rejects inverted windows. Open sides are fine.
func (r TimeRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return errors.Wrap(ErrValidation, "time range from must precede to")
	}
	return nil
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// InAnyRange reports whether t falls in at least one of the supplied ranges.
// Ranges are OR-combined; an empty slice means no time filter at all.
func InAnyRange(t time.Time, ranges []TimeRange) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if r.Contains(t) {
			return true
		}
	}
	return false
}
