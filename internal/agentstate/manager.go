package agentstate

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// clock is overridable in tests.
var clock = time.Now

// Manager owns the shared AgentState store and a per-agentId lock so that
// operations on one agent's state are totally ordered while operations on
// different agents run in parallel, the same single-writer-actor guarantee
// Coordinator gives its own callers, scoped down to the instance key.
type Manager struct {
	store *store

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mirror func(eventType string, data interface{})
}

// NewManager opens (creating if needed) the shared AgentState database.
func NewManager(dbPath string) (*Manager, error) {
	st, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Manager{store: st, locks: make(map[string]*sync.Mutex)}, nil
}

// SetNATSMirror wires an optional callback invoked after every heartbeat,
// takeover, trace completion, and escalation, mirroring these per-agent
// events onto NATS the same way Coordinator.SetNATSMirror does for its own
// push channel (see internal/natsmirror). Nil disables the mirror.
func (m *Manager) SetNATSMirror(fn func(eventType string, data interface{})) {
	m.mirror = fn
}

func (m *Manager) emit(eventType string, data interface{}) {
	if m.mirror != nil {
		m.mirror(eventType, data)
	}
}

func (m *Manager) lockFor(agentID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[agentID] = l
	}
	return l
}

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}
