package models

import "github.com/google/uuid"

// Petition is a prayer of the faithful, scoped to one organization.
type Petition struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	Title          string    `gorm:"not null" json:"title"`
	Body           string    `json:"body"`
	CreatedBy      uuid.UUID `gorm:"type:uuid" json:"created_by"`
}

func (Petition) TableName() string {
	return "petitions"
}
