package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"emergency-rescue-system/pkg/geo"
)

var ErrPermissionDenied = errors.New("location permission denied")

// Accuracy is the requested fix quality tier.
type Accuracy int

const (
	AccuracyLowest Accuracy = iota + 1
	AccuracyLow
	AccuracyBalanced
	AccuracyHigh
	AccuracyHighest
	AccuracyBestForNavigation
)

type WatchOptions struct {
	Accuracy    Accuracy
	MinInterval time.Duration
	MinDistance float64 // metres
}

// DefaultWatchOptions matches the live tracking profile used by both apps.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		Accuracy:    AccuracyBestForNavigation,
		MinInterval: 5 * time.Second,
		MinDistance: 10,
	}
}

// Fix is one position report from the device.
type Fix struct {
	Point geo.Point
	At    time.Time
}

// LocationProvider is implemented by the embedding app on top of the
// platform location API.
type LocationProvider interface {
	RequestPermission(ctx context.Context) error
	CurrentPosition(ctx context.Context, accuracy Accuracy) (Fix, error)
	// Watch streams fixes until ctx is done.
	Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error)
}

// LocationWatcher filters provider fixes by interval and displacement and
// remembers the last accepted one.
type LocationWatcher struct {
	provider LocationProvider
	opts     WatchOptions

	mu   sync.RWMutex
	last *Fix
}

func NewLocationWatcher(provider LocationProvider, opts WatchOptions) *LocationWatcher {
	return &LocationWatcher{provider: provider, opts: opts}
}

// LastFix implements FixSource.
func (w *LocationWatcher) LastFix() (geo.Point, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return geo.Point{}, false
	}
	return w.last.Point, true
}

func (w *LocationWatcher) accept(f Fix) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last != nil {
		if f.At.Sub(w.last.At) < w.opts.MinInterval {
			return false
		}
		if geo.Distance(w.last.Point, f.Point)*1000 < w.opts.MinDistance {
			return false
		}
	}
	w.last = &f
	return true
}

// Run asks for permission, seeds with the current position and then calls
// onFix for every accepted update until ctx is done. A denied permission
// returns ErrPermissionDenied and leaves LastFix empty.
func (w *LocationWatcher) Run(ctx context.Context, onFix func(geo.Point)) error {
	if err := w.provider.RequestPermission(ctx); err != nil {
		return err
	}

	if f, err := w.provider.CurrentPosition(ctx, w.opts.Accuracy); err == nil {
		if w.accept(f) && onFix != nil {
			onFix(f.Point)
		}
	}

	fixes, err := w.provider.Watch(ctx, w.opts)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-fixes:
			if !ok {
				return nil
			}
			if w.accept(f) && onFix != nil {
				onFix(f.Point)
			}
		}
	}
}
