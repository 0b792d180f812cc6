package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/velicb/supplydesk/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStater struct {
	state session.State
}

func (f *fakeStater) Snapshot() session.State {
	return f.state
}

func adminState() session.State {
	return session.State{
		Authenticated: true,
		Admin:         true,
		User:          &session.User{Username: "velicb", Role: session.RoleAdmin},
	}
}

func facultyState() session.State {
	return session.State{
		Authenticated: true,
		User:          &session.User{Username: "mdim", Role: session.RoleFaculty},
	}
}

func TestDecide(t *testing.T) {
	testCases := []struct {
		name             string
		state            session.State
		requireAdmin     bool
		path             string
		expectedAction   Action
		expectedLocation string
	}{
		{
			name:           "loading",
			state:          session.State{Loading: true},
			path:           "/api/items",
			expectedAction: ShowLoading,
		},
		{
			name:             "anonymous to login",
			state:            session.State{},
			path:             "/api/items",
			expectedAction:   RedirectLogin,
			expectedLocation: "/login?from=%2Fapi%2Fitems",
		},
		{
			name:             "expired session flagged on login redirect",
			state:            session.State{Expired: true},
			path:             "/api/items",
			expectedAction:   RedirectLogin,
			expectedLocation: "/login?from=%2Fapi%2Fitems&expired=true",
		},
		{
			name:           "faculty on faculty route",
			state:          facultyState(),
			path:           "/api/items",
			expectedAction: Allow,
		},
		{
			name:             "faculty on admin route",
			state:            facultyState(),
			requireAdmin:     true,
			path:             "/api/admin/users",
			expectedAction:   RedirectHome,
			expectedLocation: FacultyHomePath,
		},
		{
			name:           "admin on admin route",
			state:          adminState(),
			requireAdmin:   true,
			path:           "/api/admin/users",
			expectedAction: Allow,
		},
		{
			name:           "admin on faculty route",
			state:          adminState(),
			path:           "/api/items",
			expectedAction: Allow,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Decide(tc.state, tc.requireAdmin, tc.path)
			assert.Equal(t, tc.expectedAction, decision.Action)
			assert.Equal(t, tc.expectedLocation, decision.Location)
		})
	}
}

func TestGuard_Protect(t *testing.T) {
	stater := &fakeStater{state: facultyState()}
	g := New(stater)

	var deniedPaths []string
	g.OnDenied = func(path, reason string) {
		deniedPaths = append(deniedPaths, path)
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	// faculty allowed on a faculty route
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/items", nil)
	g.Protect(false)(next).ServeHTTP(rr, req)
	assert.True(t, nextCalled)
	assert.Equal(t, http.StatusOK, rr.Code)

	// faculty denied on an admin route
	nextCalled = false
	rr = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/admin/users", nil)
	g.Protect(true)(next).ServeHTTP(rr, req)
	assert.False(t, nextCalled)
	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, FacultyHomePath, rr.Header().Get("Location"))
	assert.Equal(t, []string{"/api/admin/users"}, deniedPaths)
}

func TestGuard_Protect_anonymous(t *testing.T) {
	stater := &fakeStater{}
	g := New(stater)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("anonymous request must not reach the handler")
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/items", nil)
	g.Protect(false)(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/login?from=%2Fapi%2Fitems", rr.Header().Get("Location"))
}

func TestGuard_Protect_loading(t *testing.T) {
	stater := &fakeStater{state: session.State{Loading: true}}
	g := New(stater)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be served while bootstrapping")
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/items", nil)
	g.Protect(false)(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}
