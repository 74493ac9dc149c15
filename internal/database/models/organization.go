package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a parish: the tenant boundary for all scoped records.
type Organization struct {
	Base
	Name         string `gorm:"not null" json:"name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`

	// Relationships
	Memberships []Membership `gorm:"foreignKey:OrganizationID" json:"-"`
	Petitions   []Petition   `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Membership is unique per (user, organization). "admin" is an explicit
// tag; ordinary members carry "member".
type Membership struct {
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"organization_id"`
	Roles          RoleSet   `gorm:"type:text;not null" json:"roles"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

func (Membership) TableName() string {
	return "memberships"
}

// Selection is the single organization a user currently operates against.
type Selection struct {
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null"`
	UpdatedAt      time.Time
}

func (Selection) TableName() string {
	return "selections"
}
