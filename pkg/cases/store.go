package cases

import (
	"context"
	"time"
)

// Filter selects cases. Empty fields do not constrain the result.
// Results are always ordered by creation time, newest first.
type Filter struct {
	ReporterID string
	RescueID   string
	Statuses   []Status
	Limit      int
}

func (f Filter) matches(c *Case) bool {
	if f.ReporterID != "" && c.ReporterID != f.ReporterID {
		return false
	}
	if f.RescueID != "" && c.RescueID != f.RescueID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store is the persistence contract for cases.
type Store interface {
	// Insert assigns c.ID. It returns ErrActiveCaseExists when c is active
	// and the reporter already has an active case; the check and the write
	// are one atomic step.
	Insert(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, error)
	Find(ctx context.Context, f Filter) ([]Case, error)
	// Apply performs t atomically and returns the updated case.
	Apply(ctx context.Context, t Transition, at time.Time) (*Case, error)
}

// stamp sets the per-status timestamp on c.
func stamp(c *Case, to Status, at time.Time) {
	c.Status = to
	c.UpdatedAt = at
	switch to {
	case StatusAssigned:
		c.AssignedAt = &at
	case StatusAccepted:
		c.AcceptedAt = &at
	case StatusCompleted:
		c.CompletedAt = &at
	}
}
