package locations

import (
	"testing"

	"emergency-rescue-system/pkg/geo"

	"github.com/stretchr/testify/assert"
)

func TestNearbyLandmarks(t *testing.T) {
	ref := geo.Point{Latitude: 13.7563, Longitude: 100.5018}
	landmarks := []Landmark{
		{ID: 1, Name: "Far Hospital", Category: CategoryHospital, Latitude: 13.7563, Longitude: 100.5018 + 15/108.0},
		{ID: 2, Name: "Near Station", Category: CategoryFireStation, Latitude: 13.7563, Longitude: 100.5018 + 5/108.0},
		{ID: 3, Name: "Here", Category: CategoryPolice, Latitude: 13.7563, Longitude: 100.5018},
	}

	out := NearbyLandmarks(ref, landmarks, geo.DefaultRadiusKm)
	if assert.Len(t, out, 2) {
		assert.Equal(t, "Here", out[0].Name)
		assert.InDelta(t, 0, out[0].DistanceKm, 1e-9)
		assert.Equal(t, "Near Station", out[1].Name)
		assert.InDelta(t, 5, out[1].DistanceKm, 0.2)
	}

	assert.Empty(t, NearbyLandmarks(ref, nil, geo.DefaultRadiusKm))
}

func TestSavedLocationInputValidate(t *testing.T) {
	lat, lng := 13.75, 100.5
	in := SavedLocationInput{Name: "  Home ", Latitude: &lat, Longitude: &lng}
	assert.Empty(t, in.Validate())
	assert.Equal(t, "Home", in.Name)

	assert.NotEmpty(t, (&SavedLocationInput{Latitude: &lat, Longitude: &lng}).Validate())
	assert.NotEmpty(t, (&SavedLocationInput{Name: "Home"}).Validate())

	bad := 200.0
	assert.NotEmpty(t, (&SavedLocationInput{Name: "Home", Latitude: &lat, Longitude: &bad}).Validate())
}

func TestOnlineRescuerPosition(t *testing.T) {
	r := OnlineRescuer{ID: "r1"}
	assert.False(t, r.HasLocation())

	lat, lng := 13.7, 100.4
	r.Latitude, r.Longitude = &lat, &lng
	assert.True(t, r.HasLocation())
	assert.Equal(t, geo.Point{Latitude: 13.7, Longitude: 100.4}, r.Position())
}
