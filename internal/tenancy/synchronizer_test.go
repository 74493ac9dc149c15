package tenancy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memStore
	claims   *memClaims
	sync     *Synchronizer
	guard    *Guard
	gate     *RoleGate
	switcher *Switcher
	id       Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	claims := newMemClaims()
	s := NewSynchronizer(store, store, claims, 0, testLogger())

	return &fixture{
		store:    store,
		claims:   claims,
		sync:     s,
		guard:    NewGuard(s),
		gate:     NewRoleGate(store, testLogger()),
		switcher: NewSwitcher(store, testLogger()),
		id:       Identity{UserID: uuid.New(), SessionID: "01JABCDEF0000000000000SESS"},
	}
}

func (f *fixture) selectOrg(t *testing.T, orgID uuid.UUID) {
	t.Helper()
	require.NoError(t, f.store.SetSelection(context.Background(), f.id.UserID, orgID))
}

func TestSynchronizer_NoSelection(t *testing.T) {
	f := newFixture(t)
	f.store.grant(f.id.UserID, uuid.New(), RoleMember)
	f.claims.open(f.id, uuid.Nil)

	_, err := f.sync.EnsureFresh(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrNoOrganizationSelected)
	assert.Zero(t, f.claims.reissueCalls)
}

func TestSynchronizer_FastPath(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(f.id, org, RoleMember)

	got, err := f.sync.EnsureFresh(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, org, got)
	assert.Zero(t, f.claims.reissueCalls, "fresh claims must not be reissued")
	assert.Zero(t, f.claims.writes)
}

func TestSynchronizer_FastPathIgnoresRoleOrder(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember, RoleAdmin)
	f.selectOrg(t, org)
	f.claims.open(f.id, org, RoleAdmin, RoleMember, RoleAdmin)

	_, err := f.sync.EnsureFresh(context.Background(), f.id)
	require.NoError(t, err)
	assert.Zero(t, f.claims.reissueCalls)
}

func TestSynchronizer_StaleOrganizationIsReissued(t *testing.T) {
	f := newFixture(t)
	o1, o2 := uuid.New(), uuid.New()
	f.store.grant(f.id.UserID, o1, RoleMember)
	f.store.grant(f.id.UserID, o2, RoleMember)
	f.selectOrg(t, o1)
	f.claims.open(f.id, o2, RoleMember)

	scope, err := f.sync.Sync(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, o1, scope.OrganizationID)
	assert.True(t, scope.Reissued)
	assert.Equal(t, 1, f.claims.reissueCalls)

	cl := f.claims.current(f.id.SessionID)
	assert.Equal(t, o1, cl.OrganizationID)
	assert.Equal(t, []string{RoleMember}, cl.Roles)
}

func TestSynchronizer_StaleRolesAreReissued(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(f.id, org, RoleAdmin, RoleMember)

	_, err := f.sync.EnsureFresh(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleMember}, f.claims.current(f.id.SessionID).Roles)
}

func TestSynchronizer_DanglingSelectionIsCleared(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleAdmin)
	f.selectOrg(t, org)
	f.claims.open(f.id, org, RoleAdmin)

	f.store.revoke(f.id.UserID, org)

	_, err := f.sync.EnsureFresh(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrNoOrganizationSelected)

	_, ok := f.store.selection(f.id.UserID)
	assert.False(t, ok, "dangling selection must be cleared")
	assert.Zero(t, f.claims.reissueCalls)

	// Subsequent calls see "no selection" without another clear.
	_, err = f.sync.EnsureFresh(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrNoOrganizationSelected)
	assert.Equal(t, 1, f.store.clears)
}

func TestSynchronizer_DanglingSelectionDoesNotFallBack(t *testing.T) {
	f := newFixture(t)
	gone, other := uuid.New(), uuid.New()
	f.store.grant(f.id.UserID, gone, RoleMember)
	f.store.grant(f.id.UserID, other, RoleAdmin)
	f.selectOrg(t, gone)
	f.claims.open(f.id, gone, RoleMember)
	f.store.revoke(f.id.UserID, gone)

	got, err := f.sync.EnsureFresh(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrNoOrganizationSelected)
	assert.Equal(t, uuid.Nil, got)
	assert.Equal(t, gone, f.claims.current(f.id.SessionID).OrganizationID)
}

func TestSynchronizer_ClearFailureIsReported(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(f.id, org, RoleMember)
	f.store.revoke(f.id.UserID, org)
	f.store.clearErr = errBoom

	_, err := f.sync.EnsureFresh(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, errBoom)
}

func TestSynchronizer_RetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(f.id, uuid.Nil)
	f.claims.failNext = 1
	f.claims.failErr = errBoom

	got, err := f.sync.EnsureFresh(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, org, got)
	assert.Equal(t, 2, f.claims.reissueCalls)
}

func TestSynchronizer_FailsClosedAfterBoundedAttempts(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		wantCalls int
	}{
		{name: "default", attempts: 0, wantCalls: DefaultRefreshAttempts},
		{name: "single", attempts: 1, wantCalls: 1},
		{name: "clamped", attempts: 50, wantCalls: maxRefreshAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := NewSynchronizer(f.store, f.store, f.claims, tt.attempts, testLogger())
			org := uuid.New()
			f.store.grant(f.id.UserID, org, RoleMember)
			f.selectOrg(t, org)
			f.claims.open(f.id, uuid.Nil)
			f.claims.reissueErr = errBoom

			got, err := s.EnsureFresh(context.Background(), f.id)
			assert.ErrorIs(t, err, ErrStaleClaimsRefreshFailed)
			assert.ErrorIs(t, err, errBoom)
			assert.Equal(t, uuid.Nil, got)
			assert.Equal(t, tt.wantCalls, f.claims.reissueCalls)
		})
	}
}

func TestSynchronizer_RejectsReissueThatDidNotTakeEffect(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(f.id, uuid.New(), RoleMember)
	f.claims.lagging = true

	_, err := f.sync.EnsureFresh(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrStaleClaimsRefreshFailed)
	assert.ErrorIs(t, err, errReissueMismatch)
}

func TestSynchronizer_MissingSessionIsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)

	_, err := f.sync.EnsureFresh(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, f.claims.reissueCalls)
}

func TestSynchronizer_SessionForAnotherUserIsRejected(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(Identity{UserID: uuid.New(), SessionID: f.id.SessionID}, org, RoleMember)

	_, err := f.sync.EnsureFresh(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSynchronizer_StoreErrorsPropagate(t *testing.T) {
	t.Run("selection", func(t *testing.T) {
		f := newFixture(t)
		f.store.selectionErr = errBoom

		got, err := f.sync.EnsureFresh(context.Background(), f.id)
		assert.ErrorIs(t, err, ErrStore)
		assert.Equal(t, uuid.Nil, got)
	})

	t.Run("memberships", func(t *testing.T) {
		f := newFixture(t)
		org := uuid.New()
		f.store.grant(f.id.UserID, org, RoleMember)
		f.selectOrg(t, org)
		f.store.membershipErr = errBoom

		got, err := f.sync.EnsureFresh(context.Background(), f.id)
		assert.ErrorIs(t, err, ErrStore)
		assert.Equal(t, uuid.Nil, got)
		_, ok := f.store.selection(f.id.UserID)
		assert.True(t, ok, "a read failure must not clear the selection")
	})
}

func TestSynchronizer_CancelledContextFailsClosed(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(f.id, uuid.Nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sync.EnsureFresh(ctx, f.id)
	assert.ErrorIs(t, err, ErrStaleClaimsRefreshFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.claims.reissueCalls)
}

func TestSynchronizer_ReissueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleAdmin)
	f.claims.open(f.id, uuid.Nil)

	first, err := f.claims.ReissueClaims(context.Background(), f.id, org, []string{RoleAdmin})
	require.NoError(t, err)
	second, err := f.claims.ReissueClaims(context.Background(), f.id, org, []string{RoleAdmin})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.claims.writes)
}

func TestSynchronizer_ConcurrentRefreshesConverge(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(f.id, uuid.New(), RoleAdmin)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.sync.EnsureFresh(context.Background(), f.id)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.claims.writes, "duplicate refreshes must not produce duplicate writes")
	assert.True(t, f.claims.current(f.id.SessionID).Matches(org, []string{RoleMember}))
}

func TestSynchronizer_CancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	f := newFixture(t)
	org := uuid.New()
	f.store.grant(f.id.UserID, org, RoleMember)
	f.selectOrg(t, org)
	f.claims.open(f.id, uuid.Nil)
	f.claims.entered = make(chan struct{}, 1)
	f.claims.gate = make(chan struct{})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.sync.EnsureFresh(firstCtx, f.id)
		firstErr <- err
	}()
	<-f.claims.entered

	var got uuid.UUID
	secondErr := make(chan error, 1)
	go func() {
		var err error
		got, err = f.sync.EnsureFresh(context.Background(), f.id)
		secondErr <- err
	}()
	// Let the second caller join the in-flight refresh.
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-firstErr
	assert.ErrorIs(t, err, ErrStaleClaimsRefreshFailed)
	assert.ErrorIs(t, err, context.Canceled)

	close(f.claims.gate)
	require.NoError(t, <-secondErr)
	assert.Equal(t, org, got)
	assert.True(t, f.claims.current(f.id.SessionID).Matches(org, []string{RoleMember}))
	assert.Equal(t, 1, f.claims.writes)
}
