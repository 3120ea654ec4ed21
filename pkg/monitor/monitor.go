// Package monitor implements the session monitor: the periodic check that
// starts, continues, and fires the revocation countdown for the console
// user's admin elevation.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/console"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/constant"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/countdown"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/privileges"
	"github.com/WatchBeam/clock"
	"github.com/rs/zerolog/log"
)

// Action is the outcome of the tick decision.
type Action int

const (
	// ActionNone: standard tier, no countdown active.
	ActionNone Action = iota
	// ActionStart: admin tier observed with no countdown; start one.
	ActionStart
	// ActionWait: countdown active, deadline not yet reached.
	ActionWait
	// ActionDiscard: tier reverted to standard out-of-band; drop the record.
	ActionDiscard
	// ActionRevoke: deadline passed and the user is still admin.
	ActionRevoke
)

// Decide is the pure decision core of a tick: a function of the observed
// tier, the stored record, and the current time, with no side effects.
func Decide(tier privileges.Tier, record *countdown.Record, now time.Time) Action {
	switch tier {
	case privileges.TierAdmin:
		switch {
		case record == nil:
			return ActionStart
		case record.Expired(now):
			return ActionRevoke
		default:
			return ActionWait
		}
	case privileges.TierStandard:
		if record != nil {
			return ActionDiscard
		}
		return ActionNone
	default:
		return ActionNone
	}
}

// RecordStore is the persistence boundary for countdown records.
type RecordStore interface {
	Get(user string) (*countdown.Record, error)
	Put(record *countdown.Record) error
	Delete(user string) error
}

// ConsoleUserFunc resolves the active console user.
type ConsoleUserFunc func() (console.User, error)

// Monitor watches the console user's privilege tier and drives the
// revocation countdown. It owns no privileges of its own: all effects go
// through the toggle and the record store.
type Monitor struct {
	consoleUser ConsoleUserFunc
	toggle      privileges.Toggle
	store       RecordStore
	timeout     time.Duration
	clock       clock.Clock
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock substitutes the time source, for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithConsoleUser substitutes console user resolution, for tests.
func WithConsoleUser(fn ConsoleUserFunc) Option {
	return func(m *Monitor) { m.consoleUser = fn }
}

// New builds a Monitor with the given countdown timeout. Timeouts below the
// floor are clamped, not rejected: the agent must come up even under a bad
// MDM configuration.
func New(toggle privileges.Toggle, store RecordStore, timeout time.Duration, opts ...Option) *Monitor {
	if timeout < constant.MinTimeout {
		log.Warn().
			Dur("timeout", timeout).
			Dur("floor", constant.MinTimeout).
			Msg("configured timeout below floor, clamping")
		timeout = constant.MinTimeout
	}

	m := &Monitor{
		consoleUser: console.CurrentUser,
		toggle:      toggle,
		store:       store,
		timeout:     timeout,
		clock:       clock.C,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tick runs one monitor cycle. It is never fatal: every failure is logged at
// the appropriate level here and also returned so callers and tests can
// observe it, and the next tick re-evaluates from persisted state. In
// particular a failed revoke leaves the record (and its original deadline)
// in place, so revocation is retried every tick until it lands or the user
// reverts on their own.
func (m *Monitor) Tick(ctx context.Context) error {
	usr, err := m.consoleUser()
	if errors.Is(err, console.ErrNoConsoleUser) {
		log.Debug().Msg("no console user, nothing to watch")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("resolve console user")
		return fmt.Errorf("resolve console user: %w", err)
	}

	tier, err := m.toggle.Tier(ctx, usr.Name)
	if err != nil {
		// Tier unknown: never revoke on a guess.
		log.Warn().Err(err).Str("user", usr.Name).Msg("tier query failed, skipping tick")
		return err
	}

	record, err := m.store.Get(usr.Name)
	if err != nil {
		// Without durable deadline state we must not act.
		log.Error().Err(err).Str("user", usr.Name).Msg("read countdown record")
		return err
	}

	now := m.clock.Now()
	switch Decide(tier, record, now) {
	case ActionStart:
		record = &countdown.Record{
			User:      usr.Name,
			StartedAt: now,
			Deadline:  now.Add(m.timeout),
		}
		if err := m.store.Put(record); err != nil {
			log.Error().Err(err).Str("user", usr.Name).Msg("persist countdown record")
			return err
		}
		log.Info().
			Str("user", usr.Name).
			Time("deadline", record.Deadline).
			Msg("admin tier observed, revocation countdown started")

	case ActionWait:
		log.Debug().
			Str("user", usr.Name).
			Time("deadline", record.Deadline).
			Msg("countdown running")

	case ActionDiscard:
		if err := m.store.Delete(usr.Name); err != nil {
			log.Error().Err(err).Str("user", usr.Name).Msg("discard countdown record")
			return err
		}
		log.Info().Str("user", usr.Name).Msg("tier already standard, countdown discarded")

	case ActionRevoke:
		log.Info().
			Str("user", usr.Name).
			Time("deadline", record.Deadline).
			Msg("countdown expired, revoking admin tier")
		if err := m.toggle.Revoke(ctx, usr.Name); err != nil {
			log.Error().Err(err).Str("user", usr.Name).Msg("revoke failed, will retry next tick")
			return err
		}
		if err := m.store.Delete(usr.Name); err != nil {
			// The record remains; the next tick sees the user standard and
			// discards it then.
			log.Error().Err(err).Str("user", usr.Name).Msg("clear countdown record after revoke")
			return err
		}
		log.Info().Str("user", usr.Name).Msg("admin tier revoked")

	default:
		log.Debug().Str("user", usr.Name).Msg("standard tier, nothing to do")
	}

	return nil
}
