package session

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

var ErrNoActiveSession = errors.New("no active session")

// Store holds the single active credential record, in either the
// persistent or the ephemeral location, never both. Save clears the
// other location before writing, so a login can not leave mixed old/new
// fields behind.
type Store struct {
	persistent Location
	ephemeral  Location
	// ability to inject the time source (for unit testing)
	NowFunc func() time.Time
}

func NewStore(persistent, ephemeral Location) *Store {
	return &Store{
		persistent: persistent,
		ephemeral:  ephemeral,
		NowFunc:    time.Now,
	}
}

func (s *Store) location(p Persistence) Location {
	if p == Persistent {
		return s.persistent
	}
	return s.ephemeral
}

// Save clears both locations, then writes the full record into the
// selected one, with the last-check timestamp set to now.
func (s *Store) Save(token string, user *User, expiresAt int64, persistent bool) error {
	if token == "" {
		return errors.New("token empty")
	}

	if err := s.Clear(); err != nil {
		return fmt.Errorf("clear before save: %w", err)
	}

	target := Ephemeral
	if persistent {
		target = Persistent
	}

	return s.location(target).Write(Record{
		Token:         token,
		User:          user,
		ExpiresAt:     expiresAt,
		LastCheckedAt: s.NowFunc().UnixMilli(),
	})
}

// Read returns the record from whichever location holds a token. If both
// are populated, which should never happen, the persistent one wins.
func (s *Store) Read() (Record, Persistence, error) {
	rec, err := s.persistent.Read()
	if err != nil {
		return Record{}, Persistent, err
	}
	if !rec.Empty() {
		return rec, Persistent, nil
	}

	rec, err = s.ephemeral.Read()
	if err != nil {
		return Record{}, Ephemeral, err
	}
	return rec, Ephemeral, nil
}

// Clear wipes both locations unconditionally. Idempotent.
func (s *Store) Clear() error {
	return multierr.Combine(
		s.persistent.Clear(),
		s.ephemeral.Clear(),
	)
}

// UpdateToken rewrites the token and expiry in whichever location
// currently holds a token, leaving the user profile untouched. The
// expiry is never moved backwards for the same credential generation.
func (s *Store) UpdateToken(token string, expiresAt int64) error {
	if token == "" {
		return errors.New("token empty")
	}

	rec, loc, err := s.Read()
	if err != nil {
		return err
	}
	if rec.Empty() {
		return ErrNoActiveSession
	}

	if expiresAt < rec.ExpiresAt {
		expiresAt = rec.ExpiresAt
	}

	rec.Token = token
	rec.ExpiresAt = expiresAt
	rec.LastCheckedAt = s.NowFunc().UnixMilli()
	return s.location(loc).Write(rec)
}

// touchLastChecked stamps the last validity check time into the location
// holding the token, without touching anything else.
func (s *Store) touchLastChecked(nowMillis int64) error {
	rec, loc, err := s.Read()
	if err != nil {
		return err
	}
	if rec.Empty() {
		return ErrNoActiveSession
	}

	rec.LastCheckedAt = nowMillis
	return s.location(loc).Write(rec)
}

// extendEphemeral pushes the expiry of an ephemeral record forward.
// Persistent records keep their original long-lived expiry and are never
// auto-extended.
func (s *Store) extendEphemeral(expiresAt int64) error {
	rec, loc, err := s.Read()
	if err != nil {
		return err
	}
	if rec.Empty() {
		return ErrNoActiveSession
	}
	if loc != Ephemeral {
		return nil
	}
	if expiresAt <= rec.ExpiresAt {
		return nil
	}

	rec.ExpiresAt = expiresAt
	return s.location(loc).Write(rec)
}
