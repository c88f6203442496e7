package main

import (
	"context"
	"errors"
	"time"

	"emergency-rescue-system/pkg/locations"
	"emergency-rescue-system/pkg/middleware"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errNotFound = errors.New("not found")

// locationStore is the persistence boundary of the service.
type locationStore interface {
	Landmarks(ctx context.Context) ([]locations.Landmark, error)
	ActiveAlerts(ctx context.Context) ([]locations.Alert, error)
	UpsertUserLocation(ctx context.Context, loc *locations.UserLocation) error
	OnlineRescuers(ctx context.Context) ([]locations.OnlineRescuer, error)
	SavedLocations(ctx context.Context, userID string) ([]locations.SavedLocation, error)
	CreateSavedLocation(ctx context.Context, loc *locations.SavedLocation) error
	DeleteSavedLocation(ctx context.Context, userID string, id uint) error
}

type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) migrate() error {
	return s.db.AutoMigrate(
		&locations.Landmark{},
		&locations.Alert{},
		&locations.UserLocation{},
		&locations.SavedLocation{},
	)
}

func (s *gormStore) Landmarks(ctx context.Context) ([]locations.Landmark, error) {
	var out []locations.Landmark
	err := s.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, err
}

func (s *gormStore) ActiveAlerts(ctx context.Context) ([]locations.Alert, error) {
	var out []locations.Alert
	err := s.db.WithContext(ctx).
		Where("status = ?", locations.AlertActive).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

func (s *gormStore) UpsertUserLocation(ctx context.Context, loc *locations.UserLocation) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "latitude", "longitude", "updated_at"}),
	}).Create(loc).Error
}

type onlineRescuerRow struct {
	ID        string
	FullName  string
	Latitude  *float64
	Longitude *float64
	UpdatedAt *time.Time
}

// OnlineRescuers reads the profiles table owned by the auth service.
func (s *gormStore) OnlineRescuers(ctx context.Context) ([]locations.OnlineRescuer, error) {
	var rows []onlineRescuerRow
	err := s.db.WithContext(ctx).
		Table("profiles p").
		Select("p.id, p.full_name, l.latitude, l.longitude, l.updated_at").
		Joins("LEFT JOIN user_locations l ON l.id = p.id").
		Where("p.role = ? AND p.availability = ?", middleware.RoleRescue, "online").
		Order("p.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]locations.OnlineRescuer, 0, len(rows))
	for _, r := range rows {
		out = append(out, locations.OnlineRescuer{
			ID:        r.ID,
			FullName:  r.FullName,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

func (s *gormStore) SavedLocations(ctx context.Context, userID string) ([]locations.SavedLocation, error) {
	var out []locations.SavedLocation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Find(&out).Error
	return out, err
}

func (s *gormStore) CreateSavedLocation(ctx context.Context, loc *locations.SavedLocation) error {
	return s.db.WithContext(ctx).Create(loc).Error
}

func (s *gormStore) DeleteSavedLocation(ctx context.Context, userID string, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&locations.SavedLocation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotFound
	}
	return nil
}
