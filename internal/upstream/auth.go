package upstream

import (
	"context"
	"errors"
	"net/http"

	"github.com/velicb/supplydesk/internal/session"

	log "github.com/sirupsen/logrus"
)

var _ session.AuthAPI = (*Client)(nil)

type loginResponse struct {
	Token     string        `json:"token"`
	User      *session.User `json:"user"`
	ExpiresAt int64         `json:"expires_at"`
	Message   string        `json:"message"`
}

// Login authenticates against the inventory API and writes the
// credential record through the store. Failures of any kind come back as
// a failure result, never as an error.
func (c *Client) Login(ctx context.Context, username, password string, rememberMe bool) session.LoginResult {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, loginPath, nil, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			log.Tracef("failed login attempt for user [%s]: %s", username, apiErr.Message)
			return session.LoginResult{Success: false, Message: apiErr.Message}
		}
		log.Errorf("login request for user [%s]: %s", username, err)
		return session.LoginResult{Success: false, Message: "Network error during login"}
	}

	if resp.Token == "" {
		message := resp.Message
		if message == "" {
			message = "Login failed"
		}
		return session.LoginResult{Success: false, Message: message}
	}

	// server-provided expiry wins; otherwise 30 days for remembered
	// sessions and the ephemeral floor for session-only ones
	expiresAt := resp.ExpiresAt
	if expiresAt == 0 {
		ttl := c.ephemeralTTL
		if rememberMe {
			ttl = c.rememberedTTL
		}
		expiresAt = c.NowFunc().Add(ttl).UnixMilli()
	}

	if err := c.store.Save(resp.Token, resp.User, expiresAt, rememberMe); err != nil {
		log.Errorf("login, save credentials: %s", err)
		return session.LoginResult{Success: false, Message: "Login failed"}
	}

	log.Tracef("new login success for user [%s], %s session", username, activePersistenceName(rememberMe))
	return session.LoginResult{Success: true, User: resp.User}
}

// Logout notifies the API on a best-effort basis and always clears the
// local credentials.
func (c *Client) Logout(ctx context.Context) error {
	if rec, _, err := c.store.Read(); err == nil && !rec.Empty() {
		if err := c.do(ctx, http.MethodPost, logoutPath, nil, nil, nil); err != nil {
			log.Debugf("upstream logout call failed (ignored): %s", err)
		}
	}
	return c.store.Clear()
}

// RefreshToken renews the active token. Returns false, leaving the
// existing credential untouched, on any failure.
func (c *Client) RefreshToken(ctx context.Context) bool {
	rec, loc, err := c.store.Read()
	if err != nil || rec.Empty() {
		return false
	}

	var resp struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := c.do(ctx, http.MethodPost, refreshPath, nil, nil, &resp); err != nil {
		log.Warnf("refresh token: %s", err)
		return false
	}
	if resp.Token == "" {
		return false
	}

	expiresAt := resp.ExpiresAt
	if expiresAt == 0 {
		ttl := c.ephemeralTTL
		if loc == session.Persistent {
			ttl = c.rememberedTTL
		}
		expiresAt = c.NowFunc().Add(ttl).UnixMilli()
	}

	if err := c.store.UpdateToken(resp.Token, expiresAt); err != nil {
		log.Errorf("refresh token, update credentials: %s", err)
		return false
	}

	log.Debugf("token refreshed, new expiry in %s store", loc)
	return true
}

// IsTokenExpired delegates to the validity monitor, triggering its
// extension side effect.
func (c *Client) IsTokenExpired() bool {
	return !c.monitor.CheckValidity()
}

func (c *Client) CurrentUser() *session.User {
	rec, _, err := c.store.Read()
	if err != nil || rec.Empty() {
		return nil
	}
	return rec.User
}

// TokenExpiryTime returns the stored expiry in unix millis, 0 when no
// session is active.
func (c *Client) TokenExpiryTime() int64 {
	rec, _, err := c.store.Read()
	if err != nil || rec.Empty() {
		return 0
	}
	return rec.ExpiresAt
}

func (c *Client) ActivePersistence() (session.Persistence, bool) {
	rec, loc, err := c.store.Read()
	if err != nil || rec.Empty() {
		return session.Ephemeral, false
	}
	return loc, true
}

func activePersistenceName(rememberMe bool) string {
	if rememberMe {
		return session.Persistent.String()
	}
	return session.Ephemeral.String()
}
