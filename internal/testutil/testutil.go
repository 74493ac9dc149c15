package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/auth"
	"github.com/hugh/parishdesk/internal/database"
	"github.com/hugh/parishdesk/internal/database/models"
	"github.com/hugh/parishdesk/internal/membership"
	"github.com/hugh/parishdesk/internal/session"
	"github.com/hugh/parishdesk/internal/tenancy"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates a private in-memory SQLite database for one test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// A single connection keeps the shared-cache database alive and
	// serializes writers.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database connection
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := database.Close(db); err != nil {
		t.Logf("warning: failed to close test database: %v", err)
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// CreateTestOrg creates a test parish
func CreateTestOrg(t *testing.T, db *gorm.DB, name string) *models.Organization {
	t.Helper()

	org := &models.Organization{
		Base: models.Base{
			ID: uuid.New(),
		},
		Name:         name,
		AddressLine1: "1 Church Street",
		City:         "Springfield",
		Country:      "US",
	}

	if err := db.Create(org).Error; err != nil {
		t.Fatalf("failed to create test organization: %v", err)
	}

	return org
}

// CreateTestUser creates an active user with password "testpassword123"
func CreateTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	hash, err := auth.HashPassword("testpassword123")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Base: models.Base{
			ID: uuid.New(),
		},
		Email:        "test-" + uuid.New().String()[:8] + "@example.com",
		PasswordHash: hash,
		Name:         "Test User",
		IsActive:     true,
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	return user
}

// GrantMembership adds user to org with the given roles
func GrantMembership(t *testing.T, db *gorm.DB, user *models.User, org *models.Organization, roles ...string) {
	t.Helper()

	if err := membership.NewStore(db).Grant(context.Background(), user.ID, org.ID, roles); err != nil {
		t.Fatalf("failed to grant membership: %v", err)
	}
}

// SelectOrg sets the user's selected organization
func SelectOrg(t *testing.T, db *gorm.DB, user *models.User, org *models.Organization) {
	t.Helper()

	if err := membership.NewStore(db).SetSelection(context.Background(), user.ID, org.ID); err != nil {
		t.Fatalf("failed to select organization: %v", err)
	}
}

// CreateTestJWTService creates a JWT service for testing
func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

// OpenSession creates a session for user and returns its signed token
func OpenSession(t *testing.T, sessions session.Store, jwtService *auth.JWTService, user *models.User) (*tenancy.Identity, string) {
	t.Helper()

	claims, err := sessions.Create(context.Background(), user.ID, time.Hour)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	token, err := jwtService.GenerateToken(claims)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}

	return &tenancy.Identity{UserID: user.ID, SessionID: claims.SessionID}, token
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// CreateTestPetition creates a petition in orgID
func CreateTestPetition(t *testing.T, db *gorm.DB, orgID uuid.UUID, title string) *models.Petition {
	t.Helper()

	petition := &models.Petition{
		OrganizationID: orgID,
		Title:          title,
		Body:           "For the parish of " + orgID.String()[:8],
	}

	if err := db.Create(petition).Error; err != nil {
		t.Fatalf("failed to create test petition: %v", err)
	}

	return petition
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB          *gorm.DB
	JWTService  *auth.JWTService
	Memberships *membership.Store
	Sessions    *session.DBStore
	Sync        *tenancy.Synchronizer
	Guard       *tenancy.Guard
	Gate        *tenancy.RoleGate
	Switcher    *tenancy.Switcher
	Org         *models.Organization
	User        *models.User
	Identity    *tenancy.Identity
	Token       string
}

// NewTestContext creates a complete test setup: a parish whose admin has it
// selected and holds an open session.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	memberships := membership.NewStore(db)
	sessions := session.NewDBStore(db)
	log := DiscardLogger()
	sync := tenancy.NewSynchronizer(memberships, memberships, sessions, tenancy.DefaultRefreshAttempts, log)

	org := CreateTestOrg(t, db, "St. Test")
	user := CreateTestUser(t, db)
	GrantMembership(t, db, user, org, tenancy.RoleAdmin, tenancy.RoleMember)
	SelectOrg(t, db, user, org)
	identity, token := OpenSession(t, sessions, jwtService, user)

	return &TestSetup{
		DB:          db,
		JWTService:  jwtService,
		Memberships: memberships,
		Sessions:    sessions,
		Sync:        sync,
		Guard:       tenancy.NewGuard(sync),
		Gate:        tenancy.NewRoleGate(memberships, log),
		Switcher:    tenancy.NewSwitcher(memberships, log),
		Org:         org,
		User:        user,
		Identity:    identity,
		Token:       token,
	}
}

// Cleanup closes the test database
func (ts *TestSetup) Cleanup() {
	if ts.DB != nil {
		_ = database.Close(ts.DB)
	}
}
