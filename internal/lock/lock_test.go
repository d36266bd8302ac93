package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coordhub/coordhub/internal/apierr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "lock.db"))
	require.NoError(t, err)
	return m
}

// withFakeTimer replaces afterFunc so TTL-expiry fires only when the test
// explicitly calls the captured callback, never on a real wall-clock wait.
func withFakeTimer(t *testing.T) func() {
	t.Helper()
	restore := afterFunc
	var fired func()
	afterFunc = func(d time.Duration, f func()) *time.Timer {
		fired = f
		return time.NewTimer(time.Hour * 24 * 365) // never actually fires during the test
	}
	t.Cleanup(func() { afterFunc = restore })
	return func() { fired() }
}

func TestLockTTLExpiry(t *testing.T) {
	m := newTestManager(t)
	fire := withFakeTimer(t)

	restoreClock := clock
	defer func() { clock = restoreClock }()
	t0 := time.Now()
	clock = func() time.Time { return t0 }

	_, err := m.Lock("/src/foo", "agent-a", "", 2000)
	require.NoError(t, err)

	clock = func() time.Time { return t0.Add(time.Second) }
	_, err = m.Lock("/src/foo", "agent-b", "", 0)
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.Contention, ae.Kind)

	clock = func() time.Time { return t0.Add(3 * time.Second) }
	res, err := m.Check("/src/foo")
	require.NoError(t, err)
	require.False(t, res.Locked, "check after expiry must lazily release")

	rec, err := m.Lock("/src/foo", "agent-b", "", 0)
	require.NoError(t, err)
	require.Equal(t, "agent-b", rec.LockedBy)

	_ = fire // the timer callback itself is exercised in TestLockAlarmFiresRelease
}

func TestLockAlarmFiresRelease(t *testing.T) {
	m := newTestManager(t)
	fire := withFakeTimer(t)

	restoreClock := clock
	defer func() { clock = restoreClock }()
	t0 := time.Now()
	clock = func() time.Time { return t0 }

	_, err := m.Lock("/src/bar", "agent-a", "", 1000)
	require.NoError(t, err)

	clock = func() time.Time { return t0.Add(2 * time.Second) }
	fire()

	res, err := m.Check("/src/bar")
	require.NoError(t, err)
	require.False(t, res.Locked)

	hist, err := m.History("/src/bar")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "locked", hist[0].Event)
	require.Equal(t, "released", hist[1].Event)
	require.Equal(t, "expired", hist[1].Reason)
}

func TestLockAlarmIsNoOpAfterManualRelease(t *testing.T) {
	m := newTestManager(t)
	fire := withFakeTimer(t)

	_, err := m.Lock("/src/baz", "agent-a", "", 1000)
	require.NoError(t, err)
	err = m.Unlock("/src/baz", "agent-a", false)
	require.NoError(t, err)

	require.NotPanics(t, func() { fire() })

	hist, err := m.History("/src/baz")
	require.NoError(t, err)
	require.Len(t, hist, 2, "the timer firing after a manual release must not append a second release")
}

func TestUnlockRequiresOwnerUnlessForced(t *testing.T) {
	m := newTestManager(t)
	_ = withFakeTimer(t)

	_, err := m.Lock("/doc", "agent-a", "", 0)
	require.NoError(t, err)

	err = m.Unlock("/doc", "agent-b", false)
	require.Error(t, err)
	ae, _ := apierr.As(err)
	require.Equal(t, apierr.Ownership, ae.Kind)

	err = m.Unlock("/doc", "agent-b", true)
	require.NoError(t, err)

	res, err := m.Check("/doc")
	require.NoError(t, err)
	require.False(t, res.Locked)
}

func TestReacquireBySameOwnerSucceeds(t *testing.T) {
	m := newTestManager(t)
	_ = withFakeTimer(t)

	rec, err := m.Lock("/doc", "agent-a", "first", 0)
	require.NoError(t, err)
	require.Equal(t, "agent-a", rec.LockedBy)

	rec2, err := m.Lock("/doc", "agent-a", "renewed", 0)
	require.NoError(t, err)
	require.Equal(t, "renewed", rec2.Reason)
}

func TestDefaultTTLAppliedWhenUnset(t *testing.T) {
	m := newTestManager(t)
	_ = withFakeTimer(t)

	restoreClock := clock
	defer func() { clock = restoreClock }()
	t0 := time.Now()
	clock = func() time.Time { return t0 }

	rec, err := m.Lock("/doc", "agent-a", "", 0)
	require.NoError(t, err)
	require.Equal(t, t0.Add(DefaultTTL), rec.ExpiresAt)
}
