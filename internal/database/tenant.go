package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNoTenant is returned when a tenant query is attempted without an
// organization.
var ErrNoTenant = errors.New("tenant query without organization")

const tenantSetting = "app.current_organization_id"

// TenantScope restricts a query to rows of orgID.
func TenantScope(orgID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("organization_id = ?", orgID)
	}
}

// WithTenant runs fn in a transaction bound to orgID. On PostgreSQL the
// organization is also published to row-level security policies for the
// lifetime of the transaction. orgID must come from tenancy.Guard.
func WithTenant(ctx context.Context, db *gorm.DB, orgID uuid.UUID, fn func(tx *gorm.DB) error) error {
	if orgID == uuid.Nil {
		return ErrNoTenant
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT set_config(?, ?, true)", tenantSetting, orgID.String()).Error; err != nil {
				return err
			}
		}
		// Session keeps the tenant condition on every statement fn chains.
		return fn(tx.Scopes(TenantScope(orgID)).Session(&gorm.Session{}))
	})
}
