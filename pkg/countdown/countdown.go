// Package countdown persists per-user revocation deadlines. A record is the
// only watchdog state that must survive process restarts and reboots: losing
// it mid-countdown would silently cancel a pending revocation.
package countdown

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v2"
)

const keyPrefix = "countdown/"

// Record tracks when a given user's admin elevation must expire. At most one
// record exists per user, and its Deadline is never moved once written
// (first elevation wins).
type Record struct {
	User      string    `json:"user"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// Expired reports whether the deadline has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.Deadline)
}

// Store reads and writes countdown records, one badger key per user. Every
// operation is a single transaction, so monitors for different login
// sessions never corrupt each other's records.
type Store struct {
	db *badger.DB
}

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func key(user string) []byte {
	return []byte(keyPrefix + user)
}

// Get returns the active record for user, or nil when no countdown is
// running.
func (s *Store) Get(user string) (*Record, error) {
	var record *Record
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key(user))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r Record
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			record = &r
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get countdown record for %q: %w", user, err)
	}
	return record, nil
}

// Put writes the record for record.User, replacing any existing one.
func (s *Store) Put(record *Record) error {
	val, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal countdown record for %q: %w", record.User, err)
	}
	err = s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(key(record.User), val)
	})
	if err != nil {
		return fmt.Errorf("put countdown record for %q: %w", record.User, err)
	}
	return nil
}

// Delete removes the record for user. Deleting an absent record succeeds.
func (s *Store) Delete(user string) error {
	err := s.db.Update(func(tx *badger.Txn) error {
		return tx.Delete(key(user))
	})
	if err != nil {
		return fmt.Errorf("delete countdown record for %q: %w", user, err)
	}
	return nil
}
