package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"emergency-rescue-system/services/auth-service/models"

	"gorm.io/gorm"
)

var (
	errNotFound   = errors.New("not found")
	errEmailTaken = errors.New("email already registered")
)

// userStore persists accounts, profiles and refresh tokens.
type userStore interface {
	CreateUser(ctx context.Context, user *models.User, profile *models.Profile) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	Profile(ctx context.Context, userID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID, fullName, phone string) (*models.Profile, error)
	SetAvailability(ctx context.Context, userID, availability string) (*models.Profile, error)
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// ConsumeRefreshToken revokes a live token and returns it. Expired,
	// revoked and unknown tokens yield errNotFound.
	ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, hash string) error
}

type gormStore struct {
	db *gorm.DB
}

func newGormStore(db *gorm.DB) *gormStore {
	return &gormStore{db: db}
}

func (s *gormStore) migrate() error {
	return s.db.AutoMigrate(&models.User{}, &models.Profile{}, &models.RefreshToken{})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errNotFound
	}
	return err
}

func (s *gormStore) CreateUser(ctx context.Context, user *models.User, profile *models.Profile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errEmailTaken
		}
		if err := tx.Create(user).Error; err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				return errEmailTaken
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		profile.ID = user.ID
		if err := tx.Create(profile).Error; err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		return nil
	})
}

func (s *gormStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *gormStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *gormStore) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.WithContext(ctx).First(&profile, "id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

func (s *gormStore) updateProfile(ctx context.Context, userID string, fields map[string]interface{}) (*models.Profile, error) {
	fields["updated_at"] = time.Now()
	res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", userID).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errNotFound
	}
	return s.Profile(ctx, userID)
}

func (s *gormStore) UpdateProfile(ctx context.Context, userID, fullName, phone string) (*models.Profile, error) {
	return s.updateProfile(ctx, userID, map[string]interface{}{
		"full_name": fullName,
		"phone":     phone,
	})
}

func (s *gormStore) SetAvailability(ctx context.Context, userID, availability string) (*models.Profile, error) {
	return s.updateProfile(ctx, userID, map[string]interface{}{
		"availability": availability,
	})
}

func (s *gormStore) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (s *gormStore) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	var stored models.RefreshToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("token_hash = ? AND revoked = false", hash).First(&stored).Error; err != nil {
			return notFound(err)
		}
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked = false", stored.ID).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		// Lost a race with a concurrent refresh or logout.
		if res.RowsAffected == 0 {
			return errNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if now.After(stored.ExpiresAt) {
		return nil, errNotFound
	}
	return &stored, nil
}

func (s *gormStore) RevokeRefreshToken(ctx context.Context, hash string) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ?", hash).
		Update("revoked", true).Error
}
