package tenancy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errBoom = errors.New("boom")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory MembershipStore and SelectionStore.
type memStore struct {
	mu          sync.Mutex
	memberships map[uuid.UUID]map[uuid.UUID][]string
	selections  map[uuid.UUID]uuid.UUID

	membershipErr error
	selectionErr  error
	clearErr      error

	membershipReads int
	clears          int
}

func newMemStore() *memStore {
	return &memStore{
		memberships: make(map[uuid.UUID]map[uuid.UUID][]string),
		selections:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *memStore) grant(userID, orgID uuid.UUID, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memberships[userID] == nil {
		m.memberships[userID] = make(map[uuid.UUID][]string)
	}
	m.memberships[userID][orgID] = roles
}

func (m *memStore) revoke(userID, orgID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.memberships[userID], orgID)
}

func (m *memStore) selection(userID uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.selections[userID]
	return org, ok
}

func (m *memStore) GetMemberships(_ context.Context, userID uuid.UUID) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.membershipReads++
	if m.membershipErr != nil {
		return nil, m.membershipErr
	}
	var out []Membership
	for org, roles := range m.memberships[userID] {
		out = append(out, Membership{OrganizationID: org, Roles: append([]string(nil), roles...)})
	}
	return out, nil
}

func (m *memStore) GetMembership(_ context.Context, userID, orgID uuid.UUID) (*Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.membershipReads++
	if m.membershipErr != nil {
		return nil, m.membershipErr
	}
	roles, ok := m.memberships[userID][orgID]
	if !ok {
		return nil, nil
	}
	return &Membership{OrganizationID: orgID, Roles: append([]string(nil), roles...)}, nil
}

func (m *memStore) GetSelection(_ context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selectionErr != nil {
		return uuid.Nil, false, m.selectionErr
	}
	org, ok := m.selections[userID]
	return org, ok, nil
}

func (m *memStore) SetSelection(_ context.Context, userID, orgID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selectionErr != nil {
		return m.selectionErr
	}
	if _, ok := m.memberships[userID][orgID]; !ok {
		return ErrNotAMember
	}
	m.selections[userID] = orgID
	return nil
}

func (m *memStore) ClearSelection(_ context.Context, userID, orgID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.clears++
	if m.selections[userID] == orgID {
		delete(m.selections, userID)
	}
	return nil
}

// memClaims is an in-memory ClaimsStore that counts reissue calls and
// effective writes.
type memClaims struct {
	mu       sync.Mutex
	sessions map[string]*Claims

	failNext   int
	failErr    error
	reissueErr error
	lagging    bool

	// When gate is set, ReissueClaims signals entered and blocks until
	// gate is closed.
	gate    chan struct{}
	entered chan struct{}

	reissueCalls int
	writes       int
}

func newMemClaims() *memClaims {
	return &memClaims{sessions: make(map[string]*Claims)}
}

func (c *memClaims) open(id Identity, orgID uuid.UUID, roles ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id.SessionID] = &Claims{
		SessionID:      id.SessionID,
		UserID:         id.UserID,
		OrganizationID: orgID,
		Roles:          NormalizeRoles(roles),
		IssuedAt:       time.Now(),
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}

func (c *memClaims) current(sessionID string) *Claims {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := *c.sessions[sessionID]
	return &cl
}

func (c *memClaims) GetClaims(_ context.Context, id Identity) (*Claims, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.sessions[id.SessionID]
	if !ok || cl.UserID != id.UserID {
		return nil, ErrSessionNotFound
	}
	out := *cl
	return &out, nil
}

func (c *memClaims) ReissueClaims(_ context.Context, id Identity, orgID uuid.UUID, roles []string) (*Claims, error) {
	if c.gate != nil {
		select {
		case c.entered <- struct{}{}:
		default:
		}
		<-c.gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reissueCalls++
	if c.reissueErr != nil {
		return nil, c.reissueErr
	}
	if c.failNext > 0 {
		c.failNext--
		return nil, c.failErr
	}
	cl, ok := c.sessions[id.SessionID]
	if !ok || cl.UserID != id.UserID {
		return nil, ErrSessionNotFound
	}
	if c.lagging {
		out := *cl
		return &out, nil
	}
	if !cl.Matches(orgID, roles) {
		cl.OrganizationID = orgID
		cl.Roles = NormalizeRoles(roles)
		cl.IssuedAt = time.Now()
		c.writes++
	}
	out := *cl
	return &out, nil
}
