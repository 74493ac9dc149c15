// Package membership is the gorm-backed store for memberships and
// organization selections.
package membership

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/database/models"
	"github.com/hugh/parishdesk/internal/tenancy"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrMembershipNotFound   = errors.New("membership not found")
	ErrOrganizationNotFound = errors.New("organization not found")
)

// Compile-time interface satisfaction checks
var (
	_ tenancy.MembershipStore = (*Store)(nil)
	_ tenancy.SelectionStore  = (*Store)(nil)
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OrganizationMembership pairs an organization with the caller's roles in it.
type OrganizationMembership struct {
	Organization models.Organization
	Roles        []string
}

func (s *Store) GetMemberships(ctx context.Context, userID uuid.UUID) ([]tenancy.Membership, error) {
	var rows []models.Membership
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]tenancy.Membership, len(rows))
	for i, row := range rows {
		out[i] = tenancy.Membership{OrganizationID: row.OrganizationID, Roles: row.Roles.Strings()}
	}
	return out, nil
}

func (s *Store) GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*tenancy.Membership, error) {
	var row models.Membership
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenancy.Membership{OrganizationID: row.OrganizationID, Roles: row.Roles.Strings()}, nil
}

func (s *Store) GetSelection(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	var sel models.Selection
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&sel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return sel.OrganizationID, true, nil
}

// SetSelection verifies the membership and upserts the selection in one
// transaction.
func (s *Store) SetSelection(ctx context.Context, userID, orgID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Membership{}).
			Where("user_id = ? AND organization_id = ?", userID, orgID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return tenancy.ErrNotAMember
		}

		sel := models.Selection{UserID: userID, OrganizationID: orgID, UpdatedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"organization_id", "updated_at"}),
		}).Create(&sel).Error
	})
}

func (s *Store) ClearSelection(ctx context.Context, userID, orgID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		Delete(&models.Selection{}).Error
}

// ClearDanglingSelections removes every selection whose membership no longer
// exists and reports how many were removed.
func (s *Store) ClearDanglingSelections(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM memberships m WHERE m.user_id = selections.user_id AND m.organization_id = selections.organization_id)").
		Delete(&models.Selection{})
	return res.RowsAffected, res.Error
}

// Grant adds the user to the organization or replaces their roles there.
func (s *Store) Grant(ctx context.Context, userID, orgID uuid.UUID, roles []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		if err := tx.Select("id").First(&org, "id = ?", orgID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrganizationNotFound
			}
			return err
		}

		m := models.Membership{
			UserID:         userID,
			OrganizationID: orgID,
			Roles:          models.NewRoleSet(roles...),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "organization_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"roles", "updated_at"}),
		}).Create(&m).Error
	})
}

// Revoke deletes the membership. A selection pointing at the organization is
// left for the guard to clear on its next evaluation.
func (s *Store) Revoke(ctx context.Context, userID, orgID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		Delete(&models.Membership{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// ListOrganizations returns the organizations the user belongs to, by name.
func (s *Store) ListOrganizations(ctx context.Context, userID uuid.UUID) ([]OrganizationMembership, error) {
	var rows []models.Membership
	if err := s.db.WithContext(ctx).
		Preload("Organization").
		Where("user_id = ?", userID).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]OrganizationMembership, 0, len(rows))
	for _, row := range rows {
		if row.Organization == nil {
			continue
		}
		out = append(out, OrganizationMembership{Organization: *row.Organization, Roles: row.Roles.Strings()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Organization.Name < out[j].Organization.Name
	})
	return out, nil
}
