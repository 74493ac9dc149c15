package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/database/models"
	"github.com/hugh/parishdesk/internal/tenancy"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBStore keeps sessions in the sessions table.
type DBStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db, now: time.Now}
}

func (s *DBStore) Create(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*tenancy.Claims, error) {
	claims := emptyClaims(NewID(), userID, s.now().UTC(), ttl)
	row := models.Session{
		ID:        claims.SessionID,
		UserID:    userID,
		Roles:     models.RoleSet{},
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *DBStore) GetClaims(ctx context.Context, id tenancy.Identity) (*tenancy.Claims, error) {
	row, err := s.load(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return toClaims(row), nil
}

// ReissueClaims overwrites the session's organization and roles. When they
// already match nothing is written.
func (s *DBStore) ReissueClaims(ctx context.Context, id tenancy.Identity, orgID uuid.UUID, roles []string) (*tenancy.Claims, error) {
	var out *tenancy.Claims
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.load(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}

		current := toClaims(row)
		if current.Matches(orgID, roles) {
			out = current
			return nil
		}

		org := orgID
		row.OrganizationID = &org
		row.Roles = models.NewRoleSet(roles...)
		row.IssuedAt = s.now().UTC()
		if err := tx.Model(&models.Session{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"organization_id": row.OrganizationID,
				"roles":           row.Roles,
				"issued_at":       row.IssuedAt,
			}).Error; err != nil {
			return err
		}
		out = toClaims(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DBStore) Delete(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("id = ?", sessionID).Delete(&models.Session{}).Error
}

// PurgeExpired deletes expired sessions and reports how many were removed.
func (s *DBStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

func (s *DBStore) load(db *gorm.DB, id tenancy.Identity) (*models.Session, error) {
	var row models.Session
	if err := db.
		Where("id = ? AND user_id = ? AND expires_at > ?", id.SessionID, id.UserID, s.now().UTC()).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tenancy.ErrSessionNotFound
		}
		return nil, err
	}
	return &row, nil
}

func toClaims(row *models.Session) *tenancy.Claims {
	claims := &tenancy.Claims{
		SessionID: row.ID,
		UserID:    row.UserID,
		Roles:     row.Roles.Strings(),
		IssuedAt:  row.IssuedAt,
		ExpiresAt: row.ExpiresAt,
	}
	if row.OrganizationID != nil {
		claims.OrganizationID = *row.OrganizationID
	}
	return claims
}
