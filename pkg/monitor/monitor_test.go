package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/console"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/countdown"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/database"
	"github.com/SmoteReverser/Intune-Deploy-Privileges/pkg/privileges"
	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToggle is an in-memory elevation toggle. Revoke flips the tier to
// standard unless revokeErr is set.
type fakeToggle struct {
	mu        sync.Mutex
	tier      privileges.Tier
	tierErr   error
	revokeErr error

	tierCalls   int
	revokeCalls int
	grantCalls  int
}

func (f *fakeToggle) Tier(_ context.Context, user string) (privileges.Tier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tierCalls++
	if f.tierErr != nil {
		return "", &privileges.QueryError{User: user, Err: f.tierErr}
	}
	return f.tier, nil
}

func (f *fakeToggle) Grant(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantCalls++
	f.tier = privileges.TierAdmin
	return nil
}

func (f *fakeToggle) Revoke(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	if f.revokeErr != nil {
		return &privileges.RevokeError{User: user, ExitCode: 1, Err: f.revokeErr}
	}
	f.tier = privileges.TierStandard
	return nil
}

func (f *fakeToggle) counts() (tier, revoke int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tierCalls, f.revokeCalls
}

// memStore is an in-memory RecordStore with injectable failures.
type memStore struct {
	records map[string]*countdown.Record
	getErr  error
	putErr  error
	delErr  error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*countdown.Record)}
}

func (s *memStore) Get(user string) (*countdown.Record, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.records[user], nil
}

func (s *memStore) Put(record *countdown.Record) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.records[record.User] = record
	return nil
}

func (s *memStore) Delete(user string) error {
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.records, user)
	return nil
}

func consoleAlice() (console.User, error) {
	return console.User{Name: "alice", UID: 501, GID: 20}, nil
}

func newTestMonitor(t *testing.T, toggle *fakeToggle, store RecordStore, timeout time.Duration) (*Monitor, *clock.MockClock) {
	t.Helper()
	mockClock := clock.NewMockClock()
	m := New(toggle, store, timeout,
		WithClock(mockClock),
		WithConsoleUser(consoleAlice),
	)
	return m, mockClock
}

func TestDecide(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	active := &countdown.Record{User: "alice", Deadline: now.Add(time.Minute)}
	expired := &countdown.Record{User: "alice", Deadline: now.Add(-time.Minute)}

	testCases := map[string]struct {
		tier   privileges.Tier
		record *countdown.Record
		want   Action
	}{
		"standard, no record":       {privileges.TierStandard, nil, ActionNone},
		"standard, stale record":    {privileges.TierStandard, active, ActionDiscard},
		"admin, no record":          {privileges.TierAdmin, nil, ActionStart},
		"admin, countdown running":  {privileges.TierAdmin, active, ActionWait},
		"admin, countdown expired":  {privileges.TierAdmin, expired, ActionRevoke},
		"admin, deadline right now": {privileges.TierAdmin, &countdown.Record{User: "alice", Deadline: now}, ActionRevoke},
		"unknown tier":              {privileges.Tier(""), expired, ActionNone},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.tier, tc.record, now))
		})
	}
}

func TestTickNoConsoleUser(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin}
	store := newMemStore()
	mockClock := clock.NewMockClock()
	m := New(toggle, store, time.Hour,
		WithClock(mockClock),
		WithConsoleUser(func() (console.User, error) {
			return console.User{}, console.ErrNoConsoleUser
		}),
	)

	require.NoError(t, m.Tick(context.Background()))
	assert.Zero(t, toggle.tierCalls)
	assert.Zero(t, toggle.revokeCalls)
	assert.Empty(t, store.records)
}

func TestTickStandardUserNeverRevoked(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierStandard}
	store := newMemStore()
	m, mockClock := newTestMonitor(t, toggle, store, time.Hour)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Tick(context.Background()))
		mockClock.AddTime(30 * time.Second)
	}

	assert.Zero(t, toggle.revokeCalls)
	assert.Empty(t, store.records)
}

func TestTickStartsCountdown(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin}
	store := newMemStore()
	m, mockClock := newTestMonitor(t, toggle, store, 2*time.Hour)

	elevatedAt := mockClock.Now()
	require.NoError(t, m.Tick(context.Background()))

	record := store.records["alice"]
	require.NotNil(t, record)
	assert.True(t, record.StartedAt.Equal(elevatedAt))
	assert.True(t, record.Deadline.Equal(elevatedAt.Add(2*time.Hour)))
	assert.Zero(t, toggle.revokeCalls)
}

func TestTickFirstElevationWins(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin}
	store := newMemStore()
	m, mockClock := newTestMonitor(t, toggle, store, time.Hour)

	require.NoError(t, m.Tick(context.Background()))
	deadline := store.records["alice"].Deadline

	// Re-observing admin on later ticks must not extend the deadline, or a
	// user could stay elevated indefinitely by re-triggering.
	for i := 0; i < 5; i++ {
		mockClock.AddTime(30 * time.Second)
		require.NoError(t, m.Tick(context.Background()))
		require.NotNil(t, store.records["alice"])
		assert.True(t, store.records["alice"].Deadline.Equal(deadline))
	}
}

func TestTickOutOfBandRevert(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin}
	store := newMemStore()
	m, mockClock := newTestMonitor(t, toggle, store, time.Minute)

	// T=0: elevation observed, countdown starts.
	require.NoError(t, m.Tick(context.Background()))
	require.NotNil(t, store.records["alice"])

	// T=40: user reverts on their own.
	mockClock.AddTime(40 * time.Second)
	toggle.tier = privileges.TierStandard

	// T=65: record discarded, revoke never called.
	mockClock.AddTime(25 * time.Second)
	require.NoError(t, m.Tick(context.Background()))
	assert.Nil(t, store.records["alice"])
	assert.Zero(t, toggle.revokeCalls)

	// And the tick after that is a plain no-op.
	mockClock.AddTime(30 * time.Second)
	require.NoError(t, m.Tick(context.Background()))
	assert.Zero(t, toggle.revokeCalls)
}

func TestTickRevokesAfterDeadline(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin}
	store := newMemStore()
	m, mockClock := newTestMonitor(t, toggle, store, time.Minute)

	// T=0: user elevated.
	require.NoError(t, m.Tick(context.Background()))

	// T=30: deadline at 60, still waiting.
	mockClock.AddTime(30 * time.Second)
	require.NoError(t, m.Tick(context.Background()))
	assert.Zero(t, toggle.revokeCalls)
	require.NotNil(t, store.records["alice"])

	// T=65: now >= deadline, revoke fires and the record is cleared.
	mockClock.AddTime(35 * time.Second)
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, 1, toggle.revokeCalls)
	assert.Equal(t, privileges.TierStandard, toggle.tier)
	assert.Nil(t, store.records["alice"])
}

func TestTickRetriesFailedRevoke(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin, revokeErr: errors.New("helper busy")}
	store := newMemStore()
	m, mockClock := newTestMonitor(t, toggle, store, time.Minute)

	require.NoError(t, m.Tick(context.Background()))
	deadline := store.records["alice"].Deadline

	// T=65: revoke fails. The record and its deadline stay put.
	mockClock.AddTime(65 * time.Second)
	err := m.Tick(context.Background())
	var revokeErr *privileges.RevokeError
	require.ErrorAs(t, err, &revokeErr)
	assert.Equal(t, 1, toggle.revokeCalls)
	require.NotNil(t, store.records["alice"])
	assert.True(t, store.records["alice"].Deadline.Equal(deadline))

	// T=95: still admin, revoke attempted again.
	mockClock.AddTime(30 * time.Second)
	require.Error(t, m.Tick(context.Background()))
	assert.Equal(t, 2, toggle.revokeCalls)

	// Helper recovers: revoke lands on the next tick.
	toggle.revokeErr = nil
	mockClock.AddTime(30 * time.Second)
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, 3, toggle.revokeCalls)
	assert.Nil(t, store.records["alice"])
}

func TestTickQueryFailureSkipsTick(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tierErr: errors.New("opendirectory unavailable")}
	store := newMemStore()
	m, mockClock := newTestMonitor(t, toggle, store, time.Minute)

	// Even with an expired record on file, an unknown tier must not revoke.
	now := mockClock.Now()
	store.records["alice"] = &countdown.Record{
		User:      "alice",
		StartedAt: now.Add(-2 * time.Minute),
		Deadline:  now.Add(-time.Minute),
	}

	err := m.Tick(context.Background())
	var queryErr *privileges.QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Zero(t, toggle.revokeCalls)
	assert.NotNil(t, store.records["alice"])
}

func TestTickPersistenceFailure(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin}
	store := newMemStore()
	store.getErr = errors.New("value log corrupt")
	m, _ := newTestMonitor(t, toggle, store, time.Minute)

	// Without certainty about the deadline state, the tick must not reach
	// the toggle at all.
	require.Error(t, m.Tick(context.Background()))
	assert.Zero(t, toggle.revokeCalls)

	// Recovery on a later tick proceeds normally.
	store.getErr = nil
	require.NoError(t, m.Tick(context.Background()))
	assert.NotNil(t, store.records["alice"])
}

func TestTickPutFailureDoesNotLoseDeadline(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin}
	store := newMemStore()
	store.putErr = errors.New("disk full")
	m, mockClock := newTestMonitor(t, toggle, store, time.Minute)

	require.Error(t, m.Tick(context.Background()))
	assert.Empty(t, store.records)

	// Once persistence recovers the countdown starts from the current tick,
	// never retroactively.
	store.putErr = nil
	mockClock.AddTime(30 * time.Second)
	startedAt := mockClock.Now()
	require.NoError(t, m.Tick(context.Background()))
	require.NotNil(t, store.records["alice"])
	assert.True(t, store.records["alice"].StartedAt.Equal(startedAt))
}

func TestTimeoutClampedToFloor(t *testing.T) {
	t.Parallel()

	toggle := &fakeToggle{tier: privileges.TierAdmin}
	store := newMemStore()
	m, mockClock := newTestMonitor(t, toggle, store, 5*time.Second)

	now := mockClock.Now()
	require.NoError(t, m.Tick(context.Background()))
	require.NotNil(t, store.records["alice"])
	assert.True(t, store.records["alice"].Deadline.Equal(now.Add(time.Minute)))
}

// TestRestartPreservesDeadline simulates the monitor process dying and
// relaunching mid-countdown with the real badger-backed store: the reloaded
// record must keep the original deadline, never now+timeout.
func TestRestartPreservesDeadline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	toggle := &fakeToggle{tier: privileges.TierAdmin}
	mockClock := clock.NewMockClock()

	db, err := database.Open(dir)
	require.NoError(t, err)

	m := New(toggle, countdown.NewStore(db.DB), time.Minute,
		WithClock(mockClock), WithConsoleUser(consoleAlice))
	require.NoError(t, m.Tick(context.Background()))
	deadline := mockClock.Now().Add(time.Minute)
	require.NoError(t, db.Close())

	// Process restart at T=45: a fresh monitor over the same database.
	mockClock.AddTime(45 * time.Second)
	db, err = database.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := countdown.NewStore(db.DB)
	m = New(toggle, store, time.Minute,
		WithClock(mockClock), WithConsoleUser(consoleAlice))

	record, err := store.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Deadline.Equal(deadline))

	// T=45 tick: still waiting on the original deadline.
	require.NoError(t, m.Tick(context.Background()))
	assert.Zero(t, toggle.revokeCalls)

	// T=65 tick: the original deadline fires.
	mockClock.AddTime(20 * time.Second)
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, 1, toggle.revokeCalls)

	record, err = store.Get("alice")
	require.NoError(t, err)
	assert.Nil(t, record)
}
