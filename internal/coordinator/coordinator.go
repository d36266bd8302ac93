// Package coordinator implements the Coordinator singleton: the team-wide
// registry of agents, chat, tasks, zones, claims, and handoffs, plus the
// onboarding/session-resume aggregators and the real-time push channel.
//
// Coordinator is a single-writer actor: every exported method takes the
// instance mutex for its full duration, so operations on the singleton are
// totally ordered (O1) and push events are only emitted after the
// corresponding state change has committed (O2).
package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// clock is overridable in tests.
var clock = time.Now

// Coordinator is the single team-wide stateful singleton, addressed by the
// fixed name "main".
type Coordinator struct {
	mu    sync.Mutex
	store *store
	hub   *hub

	onboarder   Onboarder
	slackMirror func(author, message string)
}

// Onboarder is the AgentState-facing dependency the Coordinator calls into
// during onboarding (§4.1). It is the one cross-singleton call this
// component makes; AgentState never calls back into Coordinator.
type Onboarder interface {
	EnsureSoul(agentID string) (soul interface{}, isNew bool, err error)
	GetCheckpointSummary(agentID string) (pendingWork []string, summary string, ok bool, err error)
	GetDashboardSnapshot(agentID string) (dashboard interface{}, ok bool, err error)
}

// New opens (creating if needed) the Coordinator's embedded SQLite store at
// dbPath and wires it to the given Onboarder dependency.
func New(dbPath string, onboarder Onboarder) (*Coordinator, error) {
	st, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Coordinator{store: st, hub: newHub(), onboarder: onboarder}, nil
}

// SetNATSMirror wires an optional subject-publish callback invoked after
// every broadcast, mirroring push events onto NATS for out-of-band
// subscribers (see internal/natsmirror).
func (c *Coordinator) SetNATSMirror(fn func(eventType string, data interface{})) {
	c.hub.mirror = fn
}

// SetSlackMirror wires an optional callback invoked after every chat
// message is appended, forwarding it to an external Slack channel (see
// internal/slackmirror). Nil disables the mirror.
func (c *Coordinator) SetSlackMirror(fn func(author, message string)) {
	c.slackMirror = fn
}

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}
