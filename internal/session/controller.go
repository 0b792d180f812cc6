package session

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	refreshMaxDelay = 5 * time.Minute
	// a refresh timer below this would just thrash on near-expired tokens
	refreshMinDelay = 10 * time.Second
	logoutMaxBuffer = time.Minute

	timerCallTimeout = 30 * time.Second
)

type LoginResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	User    *User  `json:"user,omitempty"`
}

// AuthAPI is the slice of the upstream auth client the controller needs.
type AuthAPI interface {
	Login(ctx context.Context, username, password string, rememberMe bool) LoginResult
	Logout(ctx context.Context) error
	RefreshToken(ctx context.Context) bool
	IsTokenExpired() bool
	CurrentUser() *User
	TokenExpiryTime() int64
	ActivePersistence() (Persistence, bool)
}

// State is the controller's session state as seen by the route guard.
type State struct {
	Loading       bool
	Authenticated bool
	Admin         bool
	Expired       bool
	User          *User
}

// Controller owns the authenticated-session state machine: it checks for
// an existing session on startup, schedules proactive token refresh for
// ephemeral sessions and an auto-logout strictly before the token would
// be rejected upstream, and exposes login/logout to the handlers.
type Controller struct {
	mu           sync.Mutex
	authAPI      AuthAPI
	currentUser  *User
	loading      bool
	alive        bool
	expired      bool
	logoutTimer  *time.Timer
	refreshTimer *time.Timer

	// injectable for unit testing
	NowFunc   func() time.Time
	AfterFunc func(d time.Duration, f func()) *time.Timer

	// OnAutoLogout is invoked after an expiry-triggered logout
	OnAutoLogout func()
	// OnRefresh is invoked after every refresh attempt
	OnRefresh func(success bool)
}

func NewController(authAPI AuthAPI) *Controller {
	return &Controller{
		authAPI:   authAPI,
		loading:   true,
		alive:     true,
		NowFunc:   time.Now,
		AfterFunc: time.AfterFunc,
	}
}

// Bootstrap checks for an existing session. The loading flag drops once
// the check is done, no matter how it went.
func (c *Controller) Bootstrap(ctx context.Context) {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	if c.authAPI.IsTokenExpired() {
		if err := c.authAPI.Logout(ctx); err != nil {
			log.Warnf("bootstrap, clear expired session: %s", err)
		}
		c.setUser(nil)
		return
	}

	user := c.authAPI.CurrentUser()
	if user == nil {
		c.setUser(nil)
		return
	}

	log.Debugf("bootstrap: found session for user [%s]", user.Name)
	c.setUser(user)
	c.armTimers()
}

func (c *Controller) Login(ctx context.Context, username, password string, rememberMe bool) LoginResult {
	res := c.authAPI.Login(ctx, username, password, rememberMe)
	if !res.Success {
		return res
	}

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return res
	}
	c.currentUser = res.User
	c.expired = false
	c.mu.Unlock()

	c.armTimers()
	return res
}

func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.currentUser = nil
	c.expired = false
	c.stopTimersLocked()
	c.mu.Unlock()

	return c.authAPI.Logout(ctx)
}

// Close cancels both timers; any timer callback firing afterwards is a
// no-op. No state mutation is permitted after Close.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alive = false
	c.stopTimersLocked()
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Loading:       c.loading,
		Authenticated: c.currentUser != nil,
		Admin:         c.currentUser.IsAdmin(),
		Expired:       c.expired,
		User:          c.currentUser,
	}
}

func (c *Controller) setUser(user *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return
	}
	c.currentUser = user
}

// armTimers (re)arms the refresh and auto-logout timers against the
// currently stored expiry. Each timer is a singleton: the previous
// instance of the same kind is cancelled first.
func (c *Controller) armTimers() {
	expiry := c.authAPI.TokenExpiryTime()
	if expiry == 0 {
		return
	}
	timeLeft := time.Duration(expiry-c.NowFunc().UnixMilli()) * time.Millisecond

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return
	}

	c.armRefreshLocked(timeLeft)
	c.armLogoutLocked(timeLeft)
}

func (c *Controller) armRefreshLocked(timeLeft time.Duration) {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}

	// only ephemeral sessions get proactively refreshed
	if p, ok := c.authAPI.ActivePersistence(); !ok || p != Ephemeral {
		return
	}

	delay := refreshDelay(timeLeft)
	if delay == 0 {
		return
	}

	log.Debugf("token refresh scheduled in %s", delay)
	c.refreshTimer = c.AfterFunc(delay, c.onRefreshTimer)
}

func (c *Controller) armLogoutLocked(timeLeft time.Duration) {
	if c.logoutTimer != nil {
		c.logoutTimer.Stop()
		c.logoutTimer = nil
	}

	delay := logoutDelay(timeLeft)
	if delay <= 0 {
		return
	}

	log.Debugf("auto-logout scheduled in %s", delay)
	c.logoutTimer = c.AfterFunc(delay, c.onLogoutTimer)
}

func (c *Controller) onRefreshTimer() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timerCallTimeout)
	defer cancel()

	success := c.authAPI.RefreshToken(ctx)
	if c.OnRefresh != nil {
		c.OnRefresh(success)
	}
	if success {
		log.Debugf("token refreshed, re-arming session timers")
		c.armTimers()
		return
	}
	// non-fatal: the existing token stays until it expires or the
	// auto-logout timer fires
	log.Warnf("token refresh failed, keeping current token")
}

func (c *Controller) onLogoutTimer() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	log.Warnf("auto-logout: token about to expire")

	ctx, cancel := context.WithTimeout(context.Background(), timerCallTimeout)
	defer cancel()
	if err := c.Logout(ctx); err != nil {
		log.Errorf("auto-logout: %s", err)
	}

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.expired = true
	c.mu.Unlock()

	if c.OnAutoLogout != nil {
		c.OnAutoLogout()
	}
}

func (c *Controller) stopTimersLocked() {
	if c.logoutTimer != nil {
		c.logoutTimer.Stop()
		c.logoutTimer = nil
	}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

// refreshDelay is half the remaining time, capped at 5 minutes; timers
// under 10 seconds are not worth arming at all.
func refreshDelay(timeLeft time.Duration) time.Duration {
	delay := timeLeft / 2
	if delay > refreshMaxDelay {
		delay = refreshMaxDelay
	}
	if delay <= refreshMinDelay {
		return 0
	}
	return delay
}

// logoutDelay fires 1 minute or 10% of the remaining time before the
// actual expiry, whichever buffer is smaller, so the logout always
// happens strictly before the server would reject the token.
func logoutDelay(timeLeft time.Duration) time.Duration {
	if timeLeft <= 0 {
		return 0
	}
	buffer := logoutMaxBuffer
	if tenth := timeLeft / 10; tenth < buffer {
		buffer = tenth
	}
	return timeLeft - buffer
}
