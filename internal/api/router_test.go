package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hugh/parishdesk/internal/api/dto"
	"github.com/hugh/parishdesk/internal/api/middleware"
	"github.com/hugh/parishdesk/internal/auth"
	"github.com/hugh/parishdesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, tc *testutil.TestSetup) *Router {
	t.Helper()

	router := NewRouter(RouterConfig{
		DB:            tc.DB,
		Logger:        testutil.DiscardLogger(),
		JWTService:    tc.JWTService,
		AuthService:   auth.NewService(tc.DB, tc.JWTService, tc.Sessions, time.Hour),
		Memberships:   tc.Memberships,
		Sessions:      tc.Sessions,
		Guard:         tc.Guard,
		Gate:          tc.Gate,
		Switcher:      tc.Switcher,
		RateLimitReqs: 1000,
		RateLimitSecs: 60,
	})
	t.Cleanup(router.Close)
	return router
}

func TestRouter_EndToEnd(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	router := newTestRouter(t, tc)

	send := func(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, method, path, body, token))
		return rr
	}

	assert.Equal(t, http.StatusOK, send("GET", "/health", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, send("GET", "/api/v1/petitions", nil, "").Code)

	rr := send("POST", "/api/v1/petitions", dto.CreatePetitionRequest{Title: "For vocations"}, tc.Token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(middleware.RefreshedTokenHeader), "first guarded call reissues claims")
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))

	rr = send("GET", "/api/v1/petitions", nil, tc.Token)
	require.Equal(t, http.StatusOK, rr.Code)
	var page dto.PaginatedResponse
	testutil.ParseJSONResponse(t, rr, &page)
	assert.Equal(t, int64(1), page.Total)

	rr = send("PUT", "/api/v1/organization", dto.UpdateOrganizationRequest{Name: "St. Renamed"}, tc.Token)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = send("POST", "/api/v1/auth/logout", nil, tc.Token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusUnauthorized, send("GET", "/api/v1/petitions", nil, tc.Token).Code)
}

func TestRouter_LoggedOutTokenIsRejected(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	router := newTestRouter(t, tc)

	other := testutil.CreateTestOrg(t, tc.DB, "All Saints")
	testutil.GrantMembership(t, tc.DB, tc.User, other)

	send := func(method, path string) int {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthenticatedRequest(t, method, path, nil, tc.Token))
		return rr.Code
	}

	require.Equal(t, http.StatusOK, send("GET", "/api/v1/me"))
	require.Equal(t, http.StatusOK, send("POST", "/api/v1/auth/logout"))

	assert.Equal(t, http.StatusUnauthorized, send("GET", "/api/v1/me"))
	assert.Equal(t, http.StatusUnauthorized, send("GET", "/api/v1/organizations"))
	assert.Equal(t, http.StatusUnauthorized, send("POST", "/api/v1/organizations/"+other.ID.String()+"/select"))

	selected, ok, err := tc.Memberships.GetSelection(context.Background(), tc.User.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tc.Org.ID, selected, "selection is untouched by the closed session")
}

func TestRouter_WebRedirects(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	router := newTestRouter(t, tc)

	req := httptest.NewRequest("GET", "/organizations/select", nil)
	req.Header.Set("Accept", "text/html")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
}

func TestRouter_CloseTwice(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	router := newTestRouter(t, tc)

	assert.NotPanics(t, router.Close)
}
