package client

import (
	"sync"

	"emergency-rescue-system/pkg/geo"
	"emergency-rescue-system/pkg/locations"
)

// NearbyTracker keeps the nearby-landmark list current as the device moves
// or the landmark list is reloaded.
type NearbyTracker struct {
	radiusKm float64
	onChange func([]locations.NearbyLandmark)

	mu        sync.Mutex
	at        *geo.Point
	landmarks []locations.Landmark
	nearby    []locations.NearbyLandmark
}

// NewNearbyTracker uses geo.DefaultRadiusKm when radiusKm is not positive.
// onChange may be nil.
func NewNearbyTracker(radiusKm float64, onChange func([]locations.NearbyLandmark)) *NearbyTracker {
	if radiusKm <= 0 {
		radiusKm = geo.DefaultRadiusKm
	}
	return &NearbyTracker{radiusKm: radiusKm, onChange: onChange}
}

func (t *NearbyTracker) SetLocation(p geo.Point) {
	t.mu.Lock()
	t.at = &p
	t.recompute()
}

func (t *NearbyTracker) SetLandmarks(list []locations.Landmark) {
	t.mu.Lock()
	t.landmarks = append([]locations.Landmark(nil), list...)
	t.recompute()
}

// Nearby returns the last computed list.
func (t *NearbyTracker) Nearby() []locations.NearbyLandmark {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]locations.NearbyLandmark(nil), t.nearby...)
}

// recompute must be called with mu held; it releases it.
func (t *NearbyTracker) recompute() {
	if t.at == nil {
		t.nearby = nil
	} else {
		t.nearby = locations.NearbyLandmarks(*t.at, t.landmarks, t.radiusKm)
	}
	out := append([]locations.NearbyLandmark(nil), t.nearby...)
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(out)
	}
}
