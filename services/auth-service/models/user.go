package models

import (
	"time"

	"gorm.io/gorm"
)

// Availability values for rescuers.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

type User struct {
	ID        string         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email     string         `gorm:"uniqueIndex;not null" json:"email"`
	Password  string         `gorm:"not null" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Profile shares its primary key with User. Role is authoritative for
// authorization; tokens carry a copy taken at issue time.
type Profile struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone"`
	Role         string    `gorm:"size:20;not null;default:'user'" json:"role"`
	Availability string    `gorm:"size:20;not null;default:'offline'" json:"availability"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RefreshToken struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash string    `gorm:"uniqueIndex;not null;size:64" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Revoked   bool      `gorm:"default:false" json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}
