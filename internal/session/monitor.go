package session

import (
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// bookkeeping writes (last-check stamp, extension) happen at most
	// once per interval; the expiry comparison itself always runs
	checkInterval = time.Minute
	// ephemeral tokens with less than this left get extended
	extensionWindow = 5 * time.Minute
	extensionPeriod = 30 * time.Minute
)

// Monitor decides whether the stored token is still valid, and
// opportunistically extends ephemeral tokens nearing expiry so a session
// in active use does not get cut off mid-work. Persistent ("remember
// me") tokens follow their original expiry unconditionally.
type Monitor struct {
	store *Store
	// ability to inject the time source (for unit testing)
	NowFunc func() time.Time
}

func NewMonitor(store *Store) *Monitor {
	return &Monitor{
		store:   store,
		NowFunc: time.Now,
	}
}

// CheckValidity is invoked before every outgoing request. An expired
// record is cleared from the store as a side effect.
func (m *Monitor) CheckValidity() bool {
	rec, loc, err := m.store.Read()
	if err != nil {
		log.Errorf("validity check, read credentials: %s", err)
		return false
	}
	if rec.Empty() || rec.ExpiresAt == 0 {
		return false
	}

	now := m.NowFunc().UnixMilli()
	if now > rec.ExpiresAt {
		log.Debugf("token expired during validity check, clearing credentials")
		if err := m.store.Clear(); err != nil {
			log.Errorf("validity check, clear expired credentials: %s", err)
		}
		return false
	}

	// throttle the bookkeeping to once per minute
	if rec.LastCheckedAt > 0 && now-rec.LastCheckedAt < checkInterval.Milliseconds() {
		return true
	}

	if err := m.store.touchLastChecked(now); err != nil {
		log.Errorf("validity check, update last check time: %s", err)
	}

	if loc == Ephemeral && rec.ExpiresAt-now < extensionWindow.Milliseconds() {
		log.Debugf("extending ephemeral token validity")
		if err := m.store.extendEphemeral(now + extensionPeriod.Milliseconds()); err != nil {
			log.Errorf("validity check, extend ephemeral token: %s", err)
		}
	}

	return true
}
