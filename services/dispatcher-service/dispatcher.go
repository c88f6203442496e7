package main

import (
	"context"
	"errors"
	"log"
	"time"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/geo"
	"emergency-rescue-system/pkg/locations"
	"emergency-rescue-system/pkg/middleware"

	"github.com/google/uuid"
)

// RescuerSource lists rescuers currently accepting work.
type RescuerSource interface {
	OnlineRescuers(ctx context.Context) ([]locations.OnlineRescuer, error)
}

// Assigner moves a pending case into a rescuer's queue.
type Assigner interface {
	Assign(ctx context.Context, caseID, rescuerID string) error
}

// PendingSource lists cases still waiting for a rescuer.
type PendingSource interface {
	PendingCases(ctx context.Context) ([]cases.Case, error)
}

// errAlreadyDispatched is returned by an Assigner when the case left pending.
var errAlreadyDispatched = errors.New("case is no longer pending")

type Dispatcher struct {
	rescuers RescuerSource
	assigner Assigner
	pending  PendingSource
	now      func() time.Time
}

func NewDispatcher(rescuers RescuerSource, assigner Assigner, pending PendingSource) *Dispatcher {
	return &Dispatcher{rescuers: rescuers, assigner: assigner, pending: pending, now: time.Now}
}

// Candidates orders rescuers by distance from the incident. Rescuers without a
// reported position follow, in their original order.
func Candidates(incident geo.Point, rescuers []locations.OnlineRescuer) []locations.OnlineRescuer {
	var located, unknown []locations.OnlineRescuer
	for _, r := range rescuers {
		if r.HasLocation() {
			located = append(located, r)
		} else {
			unknown = append(unknown, r)
		}
	}

	out := make([]locations.OnlineRescuer, 0, len(rescuers))
	for _, ranked := range geo.Rank(incident, located) {
		out = append(out, ranked.Item)
	}
	return append(out, unknown...)
}

// Dispatch assigns a newly created case to the nearest online rescuer. It
// returns the chosen rescuer id, or "" when nobody could take it.
func (d *Dispatcher) Dispatch(ctx context.Context, event cases.ChangeEvent) (string, error) {
	if event.Type != cases.EventCreated || event.Status != cases.StatusPending {
		return "", nil
	}
	ctx = middleware.WithTraceID(ctx, uuid.New().String())

	online, err := d.rescuers.OnlineRescuers(ctx)
	if err != nil {
		return "", err
	}
	candidates := Candidates(geo.Point{Latitude: event.Latitude, Longitude: event.Longitude}, online)
	if len(candidates) == 0 {
		log.Printf("[WARN] No online rescuer for case %s, leaving it pending", event.CaseID)
		return "", nil
	}

	chosen := candidates[0]
	err = d.assigner.Assign(ctx, event.CaseID, chosen.ID)
	if errors.Is(err, errAlreadyDispatched) {
		log.Printf("[INFO] Case %s already dispatched", event.CaseID)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	log.Printf("[OK] Case %s assigned to rescuer %s", event.CaseID, chosen.ID)
	return chosen.ID, nil
}

// Handle is the queue callback. A returned error sends the event back to the
// queue for another attempt.
func (d *Dispatcher) Handle(ctx context.Context, event cases.ChangeEvent) error {
	if _, err := d.Dispatch(ctx, event); err != nil {
		log.Printf("[ERROR] Failed to dispatch case %s: %v", event.CaseID, err)
		middleware.CaptureError(err)
		return err
	}
	return nil
}

// Sweep re-dispatches every case still pending. It picks up cases that found
// no online rescuer when they were created and events that were dropped
// after repeated failures. It returns how many cases were assigned.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	list, err := d.pending.PendingCases(ctx)
	if err != nil {
		return 0, err
	}

	assigned := 0
	var firstErr error
	for i := range list {
		chosen, err := d.Dispatch(ctx, cases.NewChangeEvent(cases.EventCreated, &list[i], d.now()))
		if err != nil {
			log.Printf("[WARN] Sweep failed to dispatch case %s: %v", list[i].ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if chosen != "" {
			assigned++
		}
	}
	return assigned, firstErr
}

// RunSweeper calls Sweep every interval until ctx is done.
func (d *Dispatcher) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Sweep(ctx)
			if err != nil {
				middleware.CaptureError(err)
			}
			if n > 0 {
				log.Printf("[OK] Sweep assigned %d pending case(s)", n)
			}
		}
	}
}
