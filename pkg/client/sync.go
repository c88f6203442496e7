package client

import (
	"context"
	"log"
	"sync"
	"time"

	"emergency-rescue-system/pkg/cases"
)

// EventSource delivers case change events until ctx is done or the stream
// drops, at which point the channel is closed.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan cases.ChangeEvent, error)
}

// DefaultRetryDelay is the pause before re-subscribing after the stream drops.
const DefaultRetryDelay = 2 * time.Second

// SyncListener re-fetches a view whenever anything changes. Event payloads
// are ignored; events arriving while a fetch is running collapse into a
// single follow-up fetch.
type SyncListener struct {
	source     EventSource
	fetch      func(ctx context.Context) error
	retryDelay time.Duration

	trigger chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewSyncListener(source EventSource, fetch func(ctx context.Context) error) *SyncListener {
	return &SyncListener{
		source:     source,
		fetch:      fetch,
		retryDelay: DefaultRetryDelay,
		trigger:    make(chan struct{}, 1),
	}
}

// WithRetryDelay overrides DefaultRetryDelay.
func (l *SyncListener) WithRetryDelay(d time.Duration) *SyncListener {
	l.retryDelay = d
	return l
}

// Start subscribes and runs an initial fetch. The first subscription error is
// returned; later drops are retried until Stop.
func (l *SyncListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := l.source.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}

	l.started = true
	l.cancel = cancel
	l.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.pump(ctx, events)
	}()
	go func() {
		defer wg.Done()
		l.worker(ctx)
	}()
	go func() {
		wg.Wait()
		close(l.done)
	}()

	l.Trigger()
	return nil
}

// Trigger schedules a fetch. It never blocks.
func (l *SyncListener) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Stop releases the subscription and waits for the fetch loop to exit. The
// listener can be started again afterwards.
func (l *SyncListener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	l.mu.Lock()
	if l.done == done {
		l.started = false
		l.cancel = nil
		l.done = nil
	}
	l.mu.Unlock()
}

func (l *SyncListener) pump(ctx context.Context, events <-chan cases.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if ok {
				l.Trigger()
				continue
			}
		}

		log.Printf("[WARN] Change stream dropped, re-subscribing in %s", l.retryDelay)
		events = l.resubscribe(ctx)
		if events == nil {
			return
		}
		// Anything missed while disconnected is picked up here.
		l.Trigger()
	}
}

// resubscribe retries until it gets a stream or ctx is done (nil).
func (l *SyncListener) resubscribe(ctx context.Context) <-chan cases.ChangeEvent {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retryDelay):
		}
		events, err := l.source.Subscribe(ctx)
		if err == nil {
			return events
		}
		log.Printf("[WARN] Re-subscribe failed: %v", err)
	}
}

func (l *SyncListener) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.trigger:
			if err := l.fetch(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[WARN] Case view refresh failed: %v", err)
			}
		}
	}
}

// CaseReader is the read side of the case API.
type CaseReader interface {
	ActiveCase(ctx context.Context) (*cases.Case, error)
	Jobs(ctx context.Context) (cases.JobView, error)
}

// Snapshot is the role-appropriate case view. Each fetch replaces the
// previous snapshot wholesale.
type Snapshot struct {
	Role      string
	Active    *cases.Case
	Jobs      cases.JobView
	FetchedAt time.Time
}

// RoleFetcher returns a fetch func that loads the rescuer's jobs or the
// citizen's active case, depending on the session role.
func RoleFetcher(session *Session, reader CaseReader, publish func(Snapshot)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		snap := Snapshot{Role: session.Role()}
		if session.IsRescuer() {
			jobs, err := reader.Jobs(ctx)
			if err != nil {
				return err
			}
			snap.Jobs = jobs
		} else {
			active, err := reader.ActiveCase(ctx)
			if err != nil {
				return err
			}
			snap.Active = active
		}
		snap.FetchedAt = time.Now()
		publish(snap)
		return nil
	}
}

// StartCaseSync keeps publish fed with the session's case view until the
// session ends.
func StartCaseSync(session *Session, source EventSource, reader CaseReader, publish func(Snapshot)) (*SyncListener, error) {
	l := NewSyncListener(source, RoleFetcher(session, reader, publish))
	if err := l.Start(session.Context()); err != nil {
		return nil, err
	}
	session.OnEnd(l.Stop)
	return l, nil
}
