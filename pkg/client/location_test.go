package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergency-rescue-system/pkg/geo"
)

type fakeProvider struct {
	denied  bool
	current *Fix
	fixes   chan Fix
	opts    WatchOptions
}

func (p *fakeProvider) RequestPermission(ctx context.Context) error {
	if p.denied {
		return ErrPermissionDenied
	}
	return nil
}

func (p *fakeProvider) CurrentPosition(ctx context.Context, accuracy Accuracy) (Fix, error) {
	if p.current == nil {
		return Fix{}, context.DeadlineExceeded
	}
	return *p.current, nil
}

func (p *fakeProvider) Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error) {
	p.opts = opts
	return p.fixes, nil
}

func TestDefaultWatchOptions(t *testing.T) {
	opts := DefaultWatchOptions()
	assert.Equal(t, AccuracyBestForNavigation, opts.Accuracy)
	assert.Equal(t, 5*time.Second, opts.MinInterval)
	assert.Equal(t, 10.0, opts.MinDistance)
}

func TestLocationWatcherPermissionDenied(t *testing.T) {
	w := NewLocationWatcher(&fakeProvider{denied: true}, DefaultWatchOptions())
	err := w.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, ok := w.LastFix()
	assert.False(t, ok)
}

func TestLocationWatcherFiltersUpdates(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	home := geo.Point{Latitude: 13.75, Longitude: 100.50}
	fixes := make(chan Fix, 8)
	p := &fakeProvider{current: &Fix{Point: home, At: start}, fixes: fixes}

	// Too soon.
	fixes <- Fix{Point: north(home, 0.1), At: start.Add(2 * time.Second)}
	// Too close.
	fixes <- Fix{Point: north(home, 0.005), At: start.Add(6 * time.Second)}
	// Accepted.
	fixes <- Fix{Point: north(home, 0.1), At: start.Add(7 * time.Second)}
	close(fixes)

	var seen []geo.Point
	w := NewLocationWatcher(p, DefaultWatchOptions())
	require.NoError(t, w.Run(context.Background(), func(pt geo.Point) { seen = append(seen, pt) }))

	require.Len(t, seen, 2)
	assert.Equal(t, home, seen[0])
	assert.Equal(t, north(home, 0.1), seen[1])
	assert.Equal(t, DefaultWatchOptions(), p.opts)

	last, ok := w.LastFix()
	require.True(t, ok)
	assert.Equal(t, north(home, 0.1), last)
}

func TestLocationWatcherFeedsComposer(t *testing.T) {
	home := geo.Point{Latitude: 13.75, Longitude: 100.50}
	fixes := make(chan Fix)
	close(fixes)
	w := NewLocationWatcher(&fakeProvider{current: &Fix{Point: home, At: time.Now()}, fixes: fixes}, DefaultWatchOptions())
	require.NoError(t, w.Run(context.Background(), nil))

	cr := &fakeCreator{}
	c := NewComposer(&fakeUploader{}, cr, w)
	c.SetReporter("Somchai", "0812345678")
	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, home.Latitude, *cr.got.Latitude)
}

func TestLocationWatcherStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewLocationWatcher(&fakeProvider{fixes: make(chan Fix)}, DefaultWatchOptions())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, nil) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
