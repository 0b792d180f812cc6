package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/velicb/supplydesk/internal/session"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.UnixMilli(1_000_000_000)

func newTestClient(t *testing.T, baseURL string, rdb *redis.Client) (*Client, *session.Store) {
	t.Helper()

	store := session.NewStore(session.NewMemoryLocation(), session.NewMemoryLocation())
	store.NowFunc = func() time.Time { return testNow }
	monitor := session.NewMonitor(store)
	monitor.NowFunc = func() time.Time { return testNow }

	client := NewClient(NewClientParams{
		BaseURL:     baseURL,
		Store:       store,
		Monitor:     monitor,
		RedisClient: rdb,
	})
	client.NowFunc = func() time.Time { return testNow }
	return client, store
}

func apiTestUser() *session.User {
	return &session.User{
		ID:       7,
		Name:     "Velic B",
		Username: "velicb",
		Role:     session.RoleFaculty,
	}
}

func TestClient_Login_remembered(t *testing.T) {
	var gotCreds map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/login", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotCreds))

		resp, err := json.Marshal(loginResponse{
			Token: "tok-1",
			User:  apiTestUser(),
		})
		require.NoError(t, err)
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)

	res := client.Login(context.Background(), "velicb", "pass", true)
	require.True(t, res.Success)
	require.NotNil(t, res.User)
	assert.Equal(t, "velicb", res.User.Username)
	assert.Equal(t, map[string]string{"username": "velicb", "password": "pass"}, gotCreds)

	rec, loc, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, session.Persistent, loc)
	assert.Equal(t, "tok-1", rec.Token)
	// no server expiry: remembered sessions default to 30 days
	assert.Equal(t, testNow.Add(30*24*time.Hour).UnixMilli(), rec.ExpiresAt)
}

func TestClient_Login_sessionOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := json.Marshal(loginResponse{
			Token: "tok-1",
			User:  apiTestUser(),
		})
		require.NoError(t, err)
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)

	res := client.Login(context.Background(), "velicb", "pass", false)
	require.True(t, res.Success)

	rec, loc, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, session.Ephemeral, loc)
	// the configured 45 minutes are below the two hour floor
	assert.Equal(t, testNow.Add(2*time.Hour).UnixMilli(), rec.ExpiresAt)
}

func TestClient_Login_serverExpiryWins(t *testing.T) {
	serverExpiry := testNow.Add(3 * time.Hour).UnixMilli()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := json.Marshal(loginResponse{
			Token:     "tok-1",
			User:      apiTestUser(),
			ExpiresAt: serverExpiry,
		})
		require.NoError(t, err)
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)

	res := client.Login(context.Background(), "velicb", "pass", false)
	require.True(t, res.Success)

	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, serverExpiry, rec.ExpiresAt)
}

func TestClient_Login_invalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)

	res := client.Login(context.Background(), "velicb", "wrong", false)
	require.False(t, res.Success)
	assert.Equal(t, "Invalid credentials", res.Message)

	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.True(t, rec.Empty())
}

func TestClient_Login_networkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused

	client, _ := newTestClient(t, server.URL, nil)

	res := client.Login(context.Background(), "velicb", "pass", false)
	require.False(t, res.Success)
	assert.Equal(t, "Network error during login", res.Message)
}

func TestClient_Login_noTokenInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Account disabled"}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, nil)

	res := client.Login(context.Background(), "velicb", "pass", false)
	require.False(t, res.Success)
	assert.Equal(t, "Account disabled", res.Message)
}

func TestClient_Logout(t *testing.T) {
	logoutCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/logout", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		logoutCalled = true
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)
	require.NoError(t, store.Save("tok-1", apiTestUser(), testNow.Add(time.Hour).UnixMilli(), true))

	require.NoError(t, client.Logout(context.Background()))
	assert.True(t, logoutCalled)

	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.True(t, rec.Empty())
}

func TestClient_Logout_serverErrorStillClears(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)
	require.NoError(t, store.Save("tok-1", apiTestUser(), testNow.Add(time.Hour).UnixMilli(), false))

	require.NoError(t, client.Logout(context.Background()))

	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.True(t, rec.Empty())
}

func TestClient_RefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/refresh-token", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"token":"tok-2"}`))
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)
	require.NoError(t, store.Save("tok-1", apiTestUser(), testNow.Add(30*time.Minute).UnixMilli(), false))

	require.True(t, client.RefreshToken(context.Background()))

	rec, loc, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, session.Ephemeral, loc)
	assert.Equal(t, "tok-2", rec.Token)
	// no server expiry: ephemeral refreshes get the two hour default
	assert.Equal(t, testNow.Add(2*time.Hour).UnixMilli(), rec.ExpiresAt)
	require.NotNil(t, rec.User)
	assert.Equal(t, "velicb", rec.User.Username)
}

func TestClient_RefreshToken_noSession(t *testing.T) {
	client, _ := newTestClient(t, "http://localhost:0", nil)
	assert.False(t, client.RefreshToken(context.Background()))
}

func TestClient_RefreshToken_serverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)
	require.NoError(t, store.Save("tok-1", apiTestUser(), testNow.Add(30*time.Minute).UnixMilli(), false))

	assert.False(t, client.RefreshToken(context.Background()))

	// the old token stays
	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", rec.Token)
}

func TestClient_sessionInfo(t *testing.T) {
	client, store := newTestClient(t, "http://localhost:0", nil)

	assert.Nil(t, client.CurrentUser())
	assert.Zero(t, client.TokenExpiryTime())
	_, active := client.ActivePersistence()
	assert.False(t, active)
	assert.True(t, client.IsTokenExpired())

	expiry := testNow.Add(time.Hour).UnixMilli()
	require.NoError(t, store.Save("tok-1", apiTestUser(), expiry, true))

	require.NotNil(t, client.CurrentUser())
	assert.Equal(t, "velicb", client.CurrentUser().Username)
	assert.Equal(t, expiry, client.TokenExpiryTime())
	loc, active := client.ActivePersistence()
	assert.True(t, active)
	assert.Equal(t, session.Persistent, loc)
	assert.False(t, client.IsTokenExpired())
}

func TestClient_unauthorizedClearsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)
	require.NoError(t, store.Save("tok-1", apiTestUser(), testNow.Add(time.Hour).UnixMilli(), true))

	_, err := client.Item(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.True(t, rec.Empty())
}

func TestClient_expiredSessionBlocksRequests(t *testing.T) {
	serverCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverCalled = true
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL, nil)
	require.NoError(t, store.Save("tok-1", apiTestUser(), testNow.Add(-time.Second).UnixMilli(), true))

	_, err := client.Item(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, serverCalled)
}
