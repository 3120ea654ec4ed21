// Package database manages the local badger store holding privwatch state,
// most importantly the per-user revocation countdown records.
package database

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog/log"
)

// Discard ratio recommended in the badger docs
// (https://pkg.go.dev/github.com/dgraph-io/badger#DB.RunValueLogGC).
const compactionDiscardRatio = 0.5

var compactionInterval = 5 * time.Minute

// DB wraps badger.DB with a background value-log compaction routine, which
// badger does not run on its own.
type DB struct {
	*badger.DB
	closeChan chan struct{}
	m         sync.Mutex // synchronizes start/stop compaction.
}

// Open opens (initializing if necessary) the badger database at path.
// Callers must close the DB with Close.
//
// Badger's DefaultOptions enable synchronous writes; countdown deadlines
// must be durable before the monitor acts on them, so that is kept as is.
func Open(path string) (*DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", path, err)
	}

	d := &DB{DB: db}
	d.startBackgroundCompaction()

	return d, nil
}

// OpenTruncate opens the badger database at path, truncating the value log
// if needed after an unclean shutdown. This may lose recent writes; callers
// should only fall back to it on badger.ErrTruncateNeeded from Open.
func OpenTruncate(path string) (*DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil).WithTruncate(true))
	if err != nil {
		return nil, fmt.Errorf("open badger with truncate %s: %w", path, err)
	}

	d := &DB{DB: db}
	d.startBackgroundCompaction()

	return d, nil
}

func (d *DB) startBackgroundCompaction() {
	d.m.Lock()
	defer d.m.Unlock()

	if d.closeChan != nil {
		panic("background compaction already running")
	}
	d.closeChan = make(chan struct{})

	go func() {
		ticker := time.NewTicker(compactionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.closeChan:
				return
			case <-ticker.C:
				err := d.DB.RunValueLogGC(compactionDiscardRatio)
				if err == nil || errors.Is(err, badger.ErrNoRewrite) {
					continue
				}
				log.Error().Err(err).Msg("compact badger")
				if errors.Is(err, badger.ErrDBClosed) {
					return
				}
			}
		}
	}()
}

func (d *DB) stopBackgroundCompaction() {
	d.m.Lock()
	defer d.m.Unlock()

	if d.closeChan != nil {
		d.closeChan <- struct{}{}
		d.closeChan = nil
	}
}

// Close stops compaction and closes the underlying database.
func (d *DB) Close() error {
	d.stopBackgroundCompaction()
	return d.DB.Close()
}
