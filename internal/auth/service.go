package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/database/models"
	"github.com/hugh/parishdesk/internal/session"
	"github.com/hugh/parishdesk/internal/tenancy"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user is inactive")
)

type Service struct {
	db         *gorm.DB
	jwt        *JWTService
	sessions   session.Store
	sessionTTL time.Duration
}

func NewService(db *gorm.DB, jwt *JWTService, sessions session.Store, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{db: db, jwt: jwt, sessions: sessions, sessionTTL: sessionTTL}
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	OrgName  string // Optional: create a parish administered by the new user
}

type LoginInput struct {
	Email    string
	Password string
}

// AuthResponse carries a token for a freshly opened session. The session has
// no organization claims yet; the first guarded request reconciles them.
type AuthResponse struct {
	Token     string       `json:"token"`
	SessionID string       `json:"-"`
	User      *models.User `json:"user"`
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var existing models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         input.Name,
		IsActive:     true,
	}

	// Transaction: create user and, optionally, their parish
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if input.OrgName == "" {
			return nil
		}

		org := models.Organization{Name: input.OrgName}
		if err := tx.Create(&org).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.Membership{
			UserID:         user.ID,
			OrganizationID: org.ID,
			Roles:          models.NewRoleSet(tenancy.RoleAdmin, tenancy.RoleMember),
		}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Selection{UserID: user.ID, OrganizationID: org.ID}).Error
	})
	if err != nil {
		return nil, err
	}

	return s.openSession(ctx, &user)
}

func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	var user models.User
	if err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(input.Email))).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	if !CheckPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.openSession(ctx, &user)
}

// Logout ends the session so its token no longer resolves.
func (s *Service) Logout(ctx context.Context, id *tenancy.Identity) error {
	if id == nil || id.SessionID == "" {
		return nil
	}
	return s.sessions.Delete(ctx, id.SessionID)
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) openSession(ctx context.Context, user *models.User) (*AuthResponse, error) {
	claims, err := s.sessions.Create(ctx, user.ID, s.sessionTTL)
	if err != nil {
		return nil, err
	}

	token, err := s.jwt.GenerateToken(claims)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		Token:     token,
		SessionID: claims.SessionID,
		User:      user,
	}, nil
}
