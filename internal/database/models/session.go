package models

import (
	"time"

	"github.com/google/uuid"
)

// Session holds the claims of one signed-in session when sessions are kept
// in the database rather than Redis.
type Session struct {
	ID             string     `gorm:"size:26;primaryKey"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index"`
	OrganizationID *uuid.UUID `gorm:"type:uuid"`
	Roles          RoleSet    `gorm:"type:text;not null"`
	IssuedAt       time.Time  `gorm:"not null"`
	ExpiresAt      time.Time  `gorm:"not null;index"`
}

func (Session) TableName() string {
	return "sessions"
}
