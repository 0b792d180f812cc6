package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T) (*Monitor, *Store) {
	t.Helper()
	store := newTestStore()
	monitor := NewMonitor(store)
	monitor.NowFunc = store.NowFunc
	return monitor, store
}

func setMonitorNow(monitor *Monitor, store *Store, nowMillis int64) {
	nowFunc := func() time.Time {
		return time.UnixMilli(nowMillis)
	}
	monitor.NowFunc = nowFunc
	store.NowFunc = nowFunc
}

func TestMonitor_noSession(t *testing.T) {
	monitor, _ := newTestMonitor(t)
	assert.False(t, monitor.CheckValidity())
}

func TestMonitor_noExpiry(t *testing.T) {
	monitor, store := newTestMonitor(t)
	require.NoError(t, store.ephemeral.Write(Record{Token: "tok-1"}))
	assert.False(t, monitor.CheckValidity())
}

func TestMonitor_validToken(t *testing.T) {
	monitor, store := newTestMonitor(t)
	require.NoError(t, store.Save("tok-1", testUser(), time.UnixMilli(1_000_000).Add(time.Hour).UnixMilli(), true))
	assert.True(t, monitor.CheckValidity())
}

func TestMonitor_expiredTokenCleared(t *testing.T) {
	monitor, store := newTestMonitor(t)
	require.NoError(t, store.Save("tok-1", testUser(), 5_000_000, true))

	setMonitorNow(monitor, store, 5_000_001)
	assert.False(t, monitor.CheckValidity())

	// the expired record is gone
	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.True(t, rec.Empty())
}

func TestMonitor_expiredVerdictNotThrottled(t *testing.T) {
	monitor, store := newTestMonitor(t)
	require.NoError(t, store.Save("tok-1", testUser(), 5_000_000, true))

	// a check just happened, the bookkeeping throttle is active
	assert.True(t, monitor.CheckValidity())

	// 30s later the token is past expiry, the verdict must not be
	// served from the throttled bookkeeping path
	setMonitorNow(monitor, store, 5_000_000+30_000)
	assert.False(t, monitor.CheckValidity())
}

func TestMonitor_throttleSkipsBookkeeping(t *testing.T) {
	monitor, store := newTestMonitor(t)
	start := int64(1_000_000)
	require.NoError(t, store.Save("tok-1", testUser(), start+time.Hour.Milliseconds(), true))

	// 30s after save: valid, but the last-check stamp stays put
	setMonitorNow(monitor, store, start+30_000)
	assert.True(t, monitor.CheckValidity())

	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, start, rec.LastCheckedAt)

	// past the minute: the stamp moves
	setMonitorNow(monitor, store, start+61_000)
	assert.True(t, monitor.CheckValidity())

	rec, _, err = store.Read()
	require.NoError(t, err)
	assert.Equal(t, start+61_000, rec.LastCheckedAt)
}

func TestMonitor_ephemeralExtension(t *testing.T) {
	monitor, store := newTestMonitor(t)
	start := int64(1_000_000)
	expiry := start + 4*time.Minute.Milliseconds()
	require.NoError(t, store.Save("tok-1", testUser(), expiry, false))

	// under 5 minutes left and past the throttle: gets 30 more minutes
	now := start + 61_000
	setMonitorNow(monitor, store, now)
	assert.True(t, monitor.CheckValidity())

	rec, loc, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, Ephemeral, loc)
	assert.Equal(t, now+30*time.Minute.Milliseconds(), rec.ExpiresAt)
}

func TestMonitor_ephemeralExtension_throttled(t *testing.T) {
	monitor, store := newTestMonitor(t)
	start := int64(1_000_000)
	expiry := start + 4*time.Minute.Milliseconds()
	require.NoError(t, store.Save("tok-1", testUser(), expiry, false))

	// within the throttle interval the expiry stays as is
	setMonitorNow(monitor, store, start+30_000)
	assert.True(t, monitor.CheckValidity())

	rec, _, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, expiry, rec.ExpiresAt)
}

func TestMonitor_persistentNeverExtended(t *testing.T) {
	monitor, store := newTestMonitor(t)
	start := int64(1_000_000)
	expiry := start + 4*time.Minute.Milliseconds()
	require.NoError(t, store.Save("tok-1", testUser(), expiry, true))

	setMonitorNow(monitor, store, start+61_000)
	assert.True(t, monitor.CheckValidity())

	rec, loc, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, Persistent, loc)
	assert.Equal(t, expiry, rec.ExpiresAt)
}
