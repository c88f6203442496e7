package cases

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Publisher announces case changes to subscribers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// Service applies the case lifecycle on top of a Store and announces every
// successful change through the Publisher.
type Service struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// NewService creates a case service. publisher may be nil.
func NewService(store Store, publisher Publisher) *Service {
	return &Service{store: store, publisher: publisher, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) announce(ctx context.Context, eventType string, c *Case) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, NewChangeEvent(eventType, c, s.now())); err != nil {
		// The write already happened; subscribers heal on their next fetch.
		log.Printf("[WARN] Case %s saved but failed to publish %s: %v", c.ID, eventType, err)
	}
}

// Create files a new pending case for reporterID. The early ActiveCase
// lookup names the blocking case; the store enforces the rule under races.
func (s *Service) Create(ctx context.Context, reporterID string, in NewCaseInput) (*Case, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	active, err := s.ActiveCase(ctx, reporterID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: %s", ErrActiveCaseExists, active.ID)
	}

	now := s.now()
	c := &Case{
		ReporterID:    reporterID,
		ReporterName:  in.ReporterName,
		ReporterPhone: in.ReporterPhone,
		ReportType:    in.ReportType,
		Description:   in.Description,
		Images:        in.Images,
		Latitude:      *in.Latitude,
		Longitude:     *in.Longitude,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return nil, err
	}

	log.Printf("[OK] Case created - ID: %s, Type: %s", c.ID, c.ReportType)
	s.announce(ctx, EventCreated, c)
	return c, nil
}

// Get returns a case the viewer may see: its reporter or its rescuer.
func (s *Service) Get(ctx context.Context, viewerID string, id string) (*Case, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ReporterID != viewerID && c.RescueID != viewerID {
		return nil, ErrForbidden
	}
	return c, nil
}

// ActiveCase returns the reporter's most recent non-terminal case, or nil.
func (s *Service) ActiveCase(ctx context.Context, reporterID string) (*Case, error) {
	list, err := s.store.Find(ctx, Filter{
		ReporterID: reporterID,
		Statuses:   ActiveStatuses,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// Jobs returns the rescuer's current job and unconfirmed queue.
func (s *Service) Jobs(ctx context.Context, rescuerID string) (JobView, error) {
	list, err := s.store.Find(ctx, Filter{
		RescueID: rescuerID,
		Statuses: JobStatuses,
	})
	if err != nil {
		return JobView{}, err
	}
	return SplitJobs(list), nil
}

// pendingBatch caps how many waiting cases one Pending call returns.
const pendingBatch = 100

// Pending lists cases that no rescuer has been assigned to yet.
func (s *Service) Pending(ctx context.Context) ([]Case, error) {
	return s.store.Find(ctx, Filter{
		Statuses: []Status{StatusPending},
		Limit:    pendingBatch,
	})
}

func (s *Service) apply(ctx context.Context, t Transition) (*Case, error) {
	c, err := s.store.Apply(ctx, t, s.now())
	if err != nil {
		return nil, err
	}
	log.Printf("[OK] Case %s moved %s -> %s (rescuer: %s)", c.ID, t.From, t.To, c.RescueID)
	s.announce(ctx, eventFor(t.To), c)
	return c, nil
}

// Assign routes a pending case into rescuerID's queue. This is the external
// dispatch step; neither client role performs it.
func (s *Service) Assign(ctx context.Context, id, rescuerID string) (*Case, error) {
	if rescuerID == "" {
		return nil, validationError("rescue_id is required")
	}
	return s.apply(ctx, Transition{
		CaseID:      id,
		From:        StatusPending,
		To:          StatusAssigned,
		SetRescueID: rescuerID,
	})
}

// Accept confirms an assigned case. Only the rescuer it was assigned to can
// accept it, and only while it is still assigned.
func (s *Service) Accept(ctx context.Context, id, rescuerID string) (*Case, error) {
	return s.apply(ctx, Transition{
		CaseID:          id,
		From:            StatusAssigned,
		To:              StatusAccepted,
		RequireRescueID: rescuerID,
		SetRescueID:     rescuerID,
	})
}

// Close completes the rescuer's accepted case with notes.
func (s *Service) Close(ctx context.Context, id, rescuerID, notes string) (*Case, error) {
	return s.apply(ctx, Transition{
		CaseID:          id,
		From:            StatusAccepted,
		To:              StatusCompleted,
		RequireRescueID: rescuerID,
		CloseNotes:      notes,
	})
}
