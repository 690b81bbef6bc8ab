package user

import (
	"time"

	"github.com/google/uuid"
)

// User represents the users table. Users belong to exactly one tenant (store);
// the tenant is the audience a caller may ring.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	DisplayName string    `gorm:"not null"`
	AvatarURL   string
	IsActive    bool `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (User) TableName() string {
	return "users"
}

// Profile is the public projection of a user carried in signaling payloads.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

func (u User) Profile() Profile {
	return Profile{ID: u.ID.String(), Name: u.DisplayName, Image: u.AvatarURL}
}
