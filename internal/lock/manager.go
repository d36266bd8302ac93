package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// clock is overridable in tests.
var clock = time.Now

// afterFunc is overridable in tests so TTL-expiry scenarios don't need a
// real wall-clock wait.
var afterFunc = time.AfterFunc

// resourceActor serializes every operation against one resourcePath and
// holds the single-shot expiry timer currently armed for it, if any.
type resourceActor struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Manager owns the shared Lock store and a per-resourcePath actor.
type Manager struct {
	store *store

	actorsMu sync.Mutex
	actors   map[string]*resourceActor
}

// NewManager opens (creating if needed) the shared Lock database.
func NewManager(dbPath string) (*Manager, error) {
	st, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Manager{store: st, actors: make(map[string]*resourceActor)}, nil
}

func (m *Manager) actorFor(resourcePath string) *resourceActor {
	m.actorsMu.Lock()
	defer m.actorsMu.Unlock()
	a, ok := m.actors[resourcePath]
	if !ok {
		a = &resourceActor{}
		m.actors[resourcePath] = a
	}
	return a
}

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}
