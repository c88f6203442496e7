package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/middleware"
)

type chanSource struct {
	mu   sync.Mutex
	subs []chan cases.ChangeEvent
	ctxs []context.Context
	err  error
}

func (s *chanSource) Subscribe(ctx context.Context) (<-chan cases.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan cases.ChangeEvent)
	s.subs = append(s.subs, ch)
	s.ctxs = append(s.ctxs, ctx)
	return ch, nil
}

func (s *chanSource) latest() chan cases.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[len(s.subs)-1]
}

func (s *chanSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func TestSyncListenerInitialFetch(t *testing.T) {
	var fetches atomic.Int32
	l := NewSyncListener(&chanSource{}, func(ctx context.Context) error {
		fetches.Add(1)
		return nil
	})
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	assert.Eventually(t, func() bool { return fetches.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSyncListenerCoalescesBursts(t *testing.T) {
	src := &chanSource{}
	var fetches atomic.Int32
	inFetch := make(chan struct{}, 1)
	gate := make(chan struct{})

	l := NewSyncListener(src, func(ctx context.Context) error {
		if fetches.Add(1) == 1 {
			inFetch <- struct{}{}
			<-gate
		}
		return nil
	})
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	<-inFetch
	events := src.latest()
	for i := 0; i < 5; i++ {
		events <- cases.ChangeEvent{Type: cases.EventAssigned}
	}
	// Let the last receive reach Trigger before the first fetch returns.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	assert.Eventually(t, func() bool { return fetches.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return fetches.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSyncListenerResubscribesAfterDrop(t *testing.T) {
	src := &chanSource{}
	var fetches atomic.Int32
	l := NewSyncListener(src, func(ctx context.Context) error {
		fetches.Add(1)
		return nil
	}).WithRetryDelay(5 * time.Millisecond)
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	assert.Eventually(t, func() bool { return fetches.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(src.latest())

	assert.Eventually(t, func() bool { return src.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return fetches.Load() == 2 }, time.Second, 5*time.Millisecond)

	src.latest() <- cases.ChangeEvent{Type: cases.EventCompleted}
	assert.Eventually(t, func() bool { return fetches.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSyncListenerStartError(t *testing.T) {
	src := &chanSource{err: errors.New("connection refused")}
	l := NewSyncListener(src, func(ctx context.Context) error { return nil })
	assert.Error(t, l.Start(context.Background()))
	l.Stop()
}

func TestSyncListenerStopReleasesSubscription(t *testing.T) {
	src := &chanSource{}
	l := NewSyncListener(src, func(ctx context.Context) error { return errors.New("offline") })
	require.NoError(t, l.Start(context.Background()))
	l.Stop()

	src.mu.Lock()
	ctx := src.ctxs[0]
	src.mu.Unlock()
	assert.Error(t, ctx.Err())
}

func TestSyncListenerRestartsAfterStop(t *testing.T) {
	src := &chanSource{}
	var fetches atomic.Int32
	l := NewSyncListener(src, func(ctx context.Context) error {
		fetches.Add(1)
		return nil
	})

	require.NoError(t, l.Start(context.Background()))
	assert.Eventually(t, func() bool { return fetches.Load() == 1 }, time.Second, 5*time.Millisecond)
	l.Stop()

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()
	assert.Equal(t, 2, src.count())
	assert.Eventually(t, func() bool { return fetches.Load() == 2 }, time.Second, 5*time.Millisecond)

	src.latest() <- cases.ChangeEvent{Type: cases.EventAssigned}
	assert.Eventually(t, func() bool { return fetches.Load() == 3 }, time.Second, 5*time.Millisecond)
}

type fakeReader struct {
	active *cases.Case
	jobs   cases.JobView
}

func (r *fakeReader) ActiveCase(ctx context.Context) (*cases.Case, error) { return r.active, nil }
func (r *fakeReader) Jobs(ctx context.Context) (cases.JobView, error)     { return r.jobs, nil }

func TestStartCaseSyncRescuer(t *testing.T) {
	src := &chanSource{}
	reader := &fakeReader{jobs: cases.JobView{JobList: []cases.Case{{ID: "c1", Status: cases.StatusAssigned}}}}
	s := newSession(Profile{ID: "r1", Role: middleware.RoleRescue}, Tokens{})

	snaps := make(chan Snapshot, 4)
	_, err := StartCaseSync(s, src, reader, func(snap Snapshot) { snaps <- snap })
	require.NoError(t, err)

	select {
	case snap := <-snaps:
		assert.Equal(t, middleware.RoleRescue, snap.Role)
		assert.Nil(t, snap.Active)
		assert.Nil(t, snap.Jobs.MyJob)
		require.Len(t, snap.Jobs.JobList, 1)
		assert.Equal(t, "c1", snap.Jobs.JobList[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}

	s.end()
	src.mu.Lock()
	ctx := src.ctxs[0]
	src.mu.Unlock()
	assert.Error(t, ctx.Err())
}

func TestStartCaseSyncCitizen(t *testing.T) {
	src := &chanSource{}
	reader := &fakeReader{active: &cases.Case{ID: "c9", Status: cases.StatusPending}}
	s := newSession(Profile{ID: "u1", Role: middleware.RoleUser}, Tokens{})
	defer s.end()

	snaps := make(chan Snapshot, 4)
	_, err := StartCaseSync(s, src, reader, func(snap Snapshot) { snaps <- snap })
	require.NoError(t, err)

	select {
	case snap := <-snaps:
		require.NotNil(t, snap.Active)
		assert.Equal(t, "c9", snap.Active.ID)
		assert.Empty(t, snap.Jobs.JobList)
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}
}
