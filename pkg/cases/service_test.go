package cases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	key   string
	event ChangeEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, recordedEvent{key: key, event: payload.(ChangeEvent)})
	return nil
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.key)
	}
	return out
}

func float(v float64) *float64 { return &v }

func newTestService() (*Service, *MemoryStore, *fakePublisher) {
	store := NewMemoryStore()
	pub := &fakePublisher{}
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	svc := NewService(store, pub).WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return svc, store, pub
}

func fireReport() NewCaseInput {
	return NewCaseInput{
		ReporterName:  "Somchai",
		ReporterPhone: "0812345678",
		ReportType:    TypeFire,
		Latitude:      float(13.75),
		Longitude:     float(100.50),
	}
}

func TestCreateCase(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	c, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, TypeFire, c.ReportType)
	assert.Equal(t, 13.75, c.Latitude)
	assert.Equal(t, 100.50, c.Longitude)
	assert.Equal(t, DefaultDescription, c.Description)
	assert.Equal(t, []string{}, c.Images)
	assert.Empty(t, c.RescueID)
	assert.Equal(t, []string{EventCreated}, pub.keys())
}

func TestCreateCaseValidation(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	in := fireReport()
	in.ReporterPhone = "  "
	_, err := svc.Create(ctx, "U1", in)
	assert.ErrorIs(t, err, ErrValidation)

	in = fireReport()
	in.ReportType = "earthquake"
	_, err = svc.Create(ctx, "U1", in)
	assert.ErrorIs(t, err, ErrValidation)

	in = fireReport()
	in.Latitude = nil
	_, err = svc.Create(ctx, "U1", in)
	assert.ErrorIs(t, err, ErrNoLocation)

	in = fireReport()
	in.Latitude = float(123)
	_, err = svc.Create(ctx, "U1", in)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, pub.keys())
}

func TestCreateRejectsSecondActiveCase(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)

	_, err = svc.Create(ctx, "U1", fireReport())
	assert.ErrorIs(t, err, ErrActiveCaseExists)

	_, err = svc.Create(ctx, "U2", fireReport())
	assert.NoError(t, err)
}

func TestPendingCaseNotInRescuerQueue(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)

	view, err := svc.Jobs(ctx, "R1")
	require.NoError(t, err)
	assert.Nil(t, view.MyJob)
	assert.Empty(t, view.JobList)
}

func TestAcceptScenario(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	c1, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)
	_, err = svc.Assign(ctx, c1.ID, "R1")
	require.NoError(t, err)

	view, err := svc.Jobs(ctx, "R1")
	require.NoError(t, err)
	assert.Nil(t, view.MyJob)
	require.Len(t, view.JobList, 1)
	assert.Equal(t, c1.ID, view.JobList[0].ID)

	accepted, err := svc.Accept(ctx, c1.ID, "R1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	assert.Equal(t, "R1", accepted.RescueID)
	assert.NotNil(t, accepted.AcceptedAt)

	view, err = svc.Jobs(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, view.MyJob)
	assert.Equal(t, c1.ID, view.MyJob.ID)
	assert.Equal(t, StatusAccepted, view.MyJob.Status)
	assert.Equal(t, "R1", view.MyJob.RescueID)
	assert.Empty(t, view.JobList)

	// the citizen still sees it as active
	active, err := svc.ActiveCase(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, StatusAccepted, active.Status)

	assert.Equal(t, []string{EventCreated, EventAssigned, EventAccepted}, pub.keys())
}

func TestCloseRemovesFromViews(t *testing.T) {
	svc, _, pub := newTestService()
	ctx := context.Background()

	c1, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)
	_, err = svc.Assign(ctx, c1.ID, "R1")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, c1.ID, "R1")
	require.NoError(t, err)

	closed, err := svc.Close(ctx, c1.ID, "R1", "fire out, no injuries")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, closed.Status)
	assert.Equal(t, "fire out, no injuries", closed.CloseNotes)
	assert.NotNil(t, closed.CompletedAt)

	view, err := svc.Jobs(ctx, "R1")
	require.NoError(t, err)
	assert.Nil(t, view.MyJob)
	assert.Empty(t, view.JobList)

	active, err := svc.ActiveCase(ctx, "U1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// a new report is allowed again
	_, err = svc.Create(ctx, "U1", fireReport())
	assert.NoError(t, err)

	assert.Contains(t, pub.keys(), EventCompleted)
}

func TestInvalidTransitionsLeaveStateUnchanged(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	c1, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)

	_, err = svc.Accept(ctx, c1.ID, "R1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Close(ctx, c1.ID, "R1", "notes")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := store.Get(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.RescueID)

	_, err = svc.Accept(ctx, "missing", "R1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOnlyAssignedRescuerCanAcceptAndClose(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c1, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)
	_, err = svc.Assign(ctx, c1.ID, "R1")
	require.NoError(t, err)

	_, err = svc.Accept(ctx, c1.ID, "R2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Accept(ctx, c1.ID, "R1")
	require.NoError(t, err)

	_, err = svc.Close(ctx, c1.ID, "R2", "not mine")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c1, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)
	_, err = svc.Assign(ctx, c1.ID, "R1")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(ctx, c1.ID, "R1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, wins)
}

func TestGetVisibility(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c1, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)
	_, err = svc.Assign(ctx, c1.ID, "R1")
	require.NoError(t, err)

	_, err = svc.Get(ctx, "U1", c1.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, "R1", c1.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, "U2", c1.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	svc, store, pub := newTestService()
	pub.err = errors.New("broker down")
	ctx := context.Background()

	c1, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)

	got, err := store.Get(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestActiveCaseIsLatest(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)
	_, err = svc.Assign(ctx, first.ID, "R1")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, first.ID, "R1")
	require.NoError(t, err)
	_, err = svc.Close(ctx, first.ID, "R1", "")
	require.NoError(t, err)

	second, err := svc.Create(ctx, "U1", fireReport())
	require.NoError(t, err)

	active, err := svc.ActiveCase(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
}

// slowFindStore widens the gap between the active-case lookup and the insert.
type slowFindStore struct {
	*MemoryStore
	delay time.Duration
}

func (s slowFindStore) Find(ctx context.Context, f Filter) ([]Case, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Find(ctx, f)
}

func TestConcurrentCreateKeepsOneActiveCase(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(slowFindStore{MemoryStore: store, delay: 20 * time.Millisecond}, nil)
	ctx := context.Background()

	const racers = 5
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(ctx, "U1", fireReport())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrActiveCaseExists)
	}
	assert.Equal(t, 1, succeeded)

	active, err := store.Find(ctx, Filter{ReporterID: "U1", Statuses: ActiveStatuses})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestMemoryStoreInsertAllowsOtherReporters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &Case{ReporterID: "U1", Status: StatusPending}))
	require.NoError(t, store.Insert(ctx, &Case{ReporterID: "U2", Status: StatusPending}))
	require.NoError(t, store.Insert(ctx, &Case{ReporterID: "U1", Status: StatusCompleted}))

	err := store.Insert(ctx, &Case{ReporterID: "U1", Status: StatusAssigned})
	assert.ErrorIs(t, err, ErrActiveCaseExists)
}
