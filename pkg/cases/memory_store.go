package cases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps cases in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	cases  map[string]*Case
	nextID int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*Case)}
}

func clone(c *Case) *Case {
	cp := *c
	cp.Images = append([]string(nil), c.Images...)
	if cp.Images == nil {
		cp.Images = []string{}
	}
	return &cp
}

// Insert refuses a second non-terminal case for the same reporter.
func (s *MemoryStore) Insert(ctx context.Context, c *Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.Status.Terminal() {
		for _, existing := range s.cases {
			if existing.ReporterID == c.ReporterID && !existing.Status.Terminal() {
				return fmt.Errorf("%w: %s", ErrActiveCaseExists, existing.ID)
			}
		}
	}

	s.nextID++
	c.ID = fmt.Sprintf("case-%06d", s.nextID)
	s.cases[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) Find(ctx context.Context, f Filter) ([]Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Case{}
	for _, c := range s.cases {
		if f.matches(c) {
			out = append(out, *clone(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Apply(ctx context.Context, t Transition, at time.Time) (*Case, error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[t.CaseID]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != t.From || (t.RequireRescueID != "" && c.RescueID != t.RequireRescueID) {
		return nil, fmt.Errorf("%w: case %s is %s", ErrInvalidTransition, c.ID, c.Status)
	}

	stamp(c, t.To, at)
	if t.SetRescueID != "" {
		c.RescueID = t.SetRescueID
	}
	if t.To == StatusCompleted {
		c.CloseNotes = t.CloseNotes
	}
	return clone(c), nil
}
