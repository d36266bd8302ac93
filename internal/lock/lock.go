package lock

import (
	"time"

	"github.com/coordhub/coordhub/internal/apierr"
	"github.com/coordhub/coordhub/internal/stringutils"
)

// stopTimer cancels a's armed expiry timer, if any. Caller must hold a.mu.
func (a *resourceActor) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// releaseLocked deletes the current row and appends a history entry.
// Caller must hold the actor's mutex and have already confirmed a current
// lock exists.
func (m *Manager) releaseLocked(resourcePath string, cur *LockRecord, reason string) error {
	if err := m.store.deleteCurrent(resourcePath); err != nil {
		return apierr.Storagef(err, "delete current lock")
	}
	if err := m.store.appendHistory(&HistoryEntry{
		ID: newID("lh"), ResourcePath: resourcePath, Event: "released", Agent: cur.LockedBy, Reason: reason, At: clock(),
	}); err != nil {
		return apierr.Storagef(err, "append lock history")
	}
	return nil
}

// expireIfDue releases cur if it is past expiresAt, returning the possibly-
// updated (nil if just released) current record. Caller holds the actor's mutex.
func (m *Manager) expireIfDue(resourcePath string, cur *LockRecord) (*LockRecord, error) {
	if cur == nil {
		return nil, nil
	}
	if !clock().After(cur.ExpiresAt) {
		return cur, nil
	}
	if err := m.releaseLocked(resourcePath, cur, "expired"); err != nil {
		return nil, err
	}
	return nil, nil
}

// Check implements the §4.3 lazy-expire read.
func (m *Manager) Check(resourcePath string) (*CheckResult, error) {
	if stringutils.IsEmpty(resourcePath) {
		return nil, apierr.Validationf("resourcePath is required")
	}
	a := m.actorFor(resourcePath)
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := m.store.getCurrent(resourcePath)
	if err != nil {
		return nil, apierr.Storagef(err, "get current lock")
	}
	cur, err = m.expireIfDue(resourcePath, cur)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		a.stopTimer()
		return &CheckResult{Locked: false}, nil
	}
	return &CheckResult{Locked: true, Lock: cur, RemainingMs: cur.ExpiresAt.Sub(clock()).Milliseconds()}, nil
}

// Lock acquires resourcePath for agentID, per §4.3.
func (m *Manager) Lock(resourcePath, agentID, reason string, ttlMs int64) (*LockRecord, error) {
	if stringutils.IsEmpty(resourcePath) {
		return nil, apierr.Validationf("resourcePath is required")
	}
	if stringutils.IsEmpty(agentID) {
		return nil, apierr.Validationf("agentId is required")
	}
	ttl := DefaultTTL
	if ttlMs > 0 {
		ttl = time.Duration(ttlMs) * time.Millisecond
	}

	a := m.actorFor(resourcePath)
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := m.store.getCurrent(resourcePath)
	if err != nil {
		return nil, apierr.Storagef(err, "get current lock")
	}
	cur, err = m.expireIfDue(resourcePath, cur)
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.LockedBy != agentID {
		return nil, apierr.Contentionf("%s is locked by %s", resourcePath, cur.LockedBy).WithDetails(map[string]interface{}{"lockedBy": cur.LockedBy})
	}

	now := clock()
	rec := &LockRecord{ResourcePath: resourcePath, LockedBy: agentID, Reason: reason, LockedAt: now, ExpiresAt: now.Add(ttl)}
	if err := m.store.putCurrent(rec); err != nil {
		return nil, apierr.Storagef(err, "put current lock")
	}
	if err := m.store.appendHistory(&HistoryEntry{
		ID: newID("lh"), ResourcePath: resourcePath, Event: "locked", Agent: agentID, Reason: reason, At: now,
	}); err != nil {
		return nil, apierr.Storagef(err, "append lock history")
	}

	a.stopTimer()
	a.timer = afterFunc(ttl, func() { m.alarm(resourcePath) })

	return rec, nil
}

// Unlock releases resourcePath. Non-owners must pass force=true.
func (m *Manager) Unlock(resourcePath, agentID string, force bool) error {
	if stringutils.IsEmpty(resourcePath) {
		return apierr.Validationf("resourcePath is required")
	}
	if stringutils.IsEmpty(agentID) {
		return apierr.Validationf("agentId is required")
	}

	a := m.actorFor(resourcePath)
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := m.store.getCurrent(resourcePath)
	if err != nil {
		return apierr.Storagef(err, "get current lock")
	}
	if cur == nil {
		return apierr.NotFoundf("%s is not locked", resourcePath)
	}
	if cur.LockedBy != agentID && !force {
		return apierr.Ownershipf("%s is locked by %s", resourcePath, cur.LockedBy)
	}

	a.stopTimer()
	return m.releaseLocked(resourcePath, cur, "unlocked")
}

// alarm is the timer-fired release: if the resource is still held, release
// it with reason=expired. No-op if a manual release already happened.
func (m *Manager) alarm(resourcePath string) {
	a := m.actorFor(resourcePath)
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := m.store.getCurrent(resourcePath)
	if err != nil || cur == nil {
		return
	}
	a.timer = nil
	_ = m.releaseLocked(resourcePath, cur, "expired")
}

// History returns every lock/release event recorded for resourcePath.
func (m *Manager) History(resourcePath string) ([]*HistoryEntry, error) {
	if stringutils.IsEmpty(resourcePath) {
		return nil, apierr.Validationf("resourcePath is required")
	}
	a := m.actorFor(resourcePath)
	a.mu.Lock()
	defer a.mu.Unlock()

	h, err := m.store.listHistory(resourcePath)
	if err != nil {
		return nil, apierr.Storagef(err, "list lock history")
	}
	return h, nil
}
