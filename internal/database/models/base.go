package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/tenancy"
	"gorm.io/gorm"
)

// RoleSet is a normalized set of role tags stored as a PostgreSQL-style
// array literal ({admin,member}) in a text column.
type RoleSet []string

// NewRoleSet normalizes roles. An empty set means an ordinary member.
func NewRoleSet(roles ...string) RoleSet {
	set := tenancy.NormalizeRoles(roles)
	if len(set) == 0 {
		set = []string{tenancy.RoleMember}
	}
	return RoleSet(set)
}

// Scan implements the sql.Scanner interface for reading from database
func (r *RoleSet) Scan(value interface{}) error {
	var str string
	switch v := value.(type) {
	case nil:
		*r = nil
		return nil
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("RoleSet: expected string, got %T", value)
	}

	str = strings.Trim(strings.TrimSpace(str), "{}")
	if str == "" {
		*r = RoleSet{}
		return nil
	}
	*r = RoleSet(tenancy.NormalizeRoles(strings.Split(str, ",")))
	return nil
}

// Value implements the driver.Valuer interface for writing to database
func (r RoleSet) Value() (driver.Value, error) {
	return "{" + strings.Join(tenancy.NormalizeRoles(r), ",") + "}", nil
}

func (r RoleSet) Strings() []string {
	return tenancy.NormalizeRoles(r)
}

// Base model with UUID primary key and timestamps
type Base struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
