// Package locations holds the place records shared by the location service,
// the dispatcher and the client SDK.
package locations

import (
	"strings"
	"time"

	"emergency-rescue-system/pkg/geo"
)

// Category of a landmark.
type Category string

const (
	CategoryHospital    Category = "hospital"
	CategoryPolice      Category = "police"
	CategoryFireStation Category = "fire_station"
	CategorySchool      Category = "school"
	CategoryStore       Category = "store"
	CategoryOther       Category = "other"
)

// AlertActive is the only alert status surfaced to clients.
const AlertActive = "ACTIVE"

// Landmark is a read-only point of interest.
type Landmark struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	Name      string   `gorm:"not null" json:"name"`
	Category  Category `gorm:"size:32;not null;default:'other'" json:"category"`
	Latitude  float64  `gorm:"not null" json:"latitude"`
	Longitude float64  `gorm:"not null" json:"longitude"`
}

func (l Landmark) Position() geo.Point {
	return geo.Point{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Alert is an area-wide notice. Stored in the notifications table.
type Alert struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	Message   string    `json:"message"`
	Status    string    `gorm:"size:20;index;not null" json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (Alert) TableName() string { return "notifications" }

// UserLocation is the last reported device position of a user.
type UserLocation struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `json:"email"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SavedLocation is a user's named place.
type SavedLocation struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"type:uuid;index;not null" json:"user_id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	Latitude    float64   `gorm:"not null" json:"latitude"`
	Longitude   float64   `gorm:"not null" json:"longitude"`
	CreatedAt   time.Time `json:"created_at"`
}

func (SavedLocation) TableName() string { return "user_locations_saved" }

// SavedLocationInput is the create payload. Coordinates are pointers so a
// missing value is distinguishable from zero.
type SavedLocationInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// Validate requires a name and an in-range coordinate.
func (in *SavedLocationInput) Validate() string {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return "name is required"
	}
	if in.Latitude == nil || in.Longitude == nil {
		return "latitude and longitude are required"
	}
	if !(geo.Point{Latitude: *in.Latitude, Longitude: *in.Longitude}).Valid() {
		return "coordinate out of range"
	}
	return ""
}

// OnlineRescuer is a rescuer currently accepting work, with their last known
// position when they have reported one.
type OnlineRescuer struct {
	ID        string     `json:"id"`
	FullName  string     `json:"full_name"`
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// HasLocation reports whether a position is known.
func (r OnlineRescuer) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

func (r OnlineRescuer) Position() geo.Point {
	if !r.HasLocation() {
		return geo.Point{}
	}
	return geo.Point{Latitude: *r.Latitude, Longitude: *r.Longitude}
}

// NearbyLandmark is a landmark with its distance from the query point.
type NearbyLandmark struct {
	Landmark
	DistanceKm float64 `json:"distance_km"`
}

// NearbyLandmarks filters and orders landmarks around ref.
func NearbyLandmarks(ref geo.Point, landmarks []Landmark, radiusKm float64) []NearbyLandmark {
	ranked := geo.Nearby(ref, landmarks, radiusKm)
	out := make([]NearbyLandmark, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, NearbyLandmark{Landmark: r.Item, DistanceKm: r.DistanceKm})
	}
	return out
}
