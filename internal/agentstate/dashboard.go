package agentstate

import (
	"fmt"
	"time"

	"github.com/coordhub/coordhub/internal/apierr"
)

// Flow states per §4.2.
const (
	FlowInFlow   = "in_flow"
	FlowAvailable = "available"
	FlowStuck    = "stuck"
	FlowOffline  = "offline"
)

// FlowStatus is the classification returned alongside a dashboard.
type FlowStatus struct {
	State        string  `json:"state"`
	DurationSecs float64 `json:"durationSeconds,omitempty"`
	RespectFlow  bool    `json:"respectFlow,omitempty"`
}

// Dashboard is the aggregate snapshot returned by GET /dashboard.
type Dashboard struct {
	Soul               *Soul        `json:"soul,omitempty"`
	Flow               FlowStatus   `json:"flow"`
	StreakAtRisk       bool         `json:"streakAtRisk"`
	NextLevelProjection string      `json:"nextLevelProjection,omitempty"`
	PendingEscalations []*Escalation `json:"pendingEscalations"`
	Shadow             *ShadowMonitor `json:"shadow"`
	Suggestions        []string     `json:"suggestions"`
}

// GetDashboard builds the full aggregate view for agentID.
func (m *Manager) GetDashboard(agentID string) (*Dashboard, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	return m.buildDashboard(agentID)
}

// GetDashboardSnapshot implements the coordinator.Onboarder dependency: a
// best-effort dashboard fetch for returning agents.
func (m *Manager) GetDashboardSnapshot(agentID string) (interface{}, bool, error) {
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	soul, _, err := m.store.getSoul(agentID)
	if err != nil {
		return nil, false, apierr.Storagef(err, "get soul")
	}
	if soul == nil {
		return nil, false, nil
	}
	d, err := m.buildDashboard(agentID)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (m *Manager) buildDashboard(agentID string) (*Dashboard, error) {
	soul, lastTraceAt, err := m.store.getSoul(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "get soul")
	}

	traces, err := m.store.listTraces(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "list traces")
	}

	var pendingEscalations []*Escalation
	allEscalations, err := m.store.listEscalations(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "list escalations")
	}
	for _, e := range allEscalations {
		if e.ResolvedAt == nil {
			pendingEscalations = append(pendingEscalations, e)
		}
	}

	shadow, err := m.getOrInitShadow(agentID)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		PendingEscalations: pendingEscalations,
		Shadow:             deriveHealth(shadow),
		Flow:               classifyFlow(traces, len(pendingEscalations) > 0, clock()),
	}
	if soul != nil {
		d.Soul = withDerived(soul, lastTraceAt)
		d.StreakAtRisk = streakAtRisk(traces, clock())
		d.NextLevelProjection = nextLevelProjection(soul)
	}
	d.Suggestions = buildSuggestions(d)
	return d, nil
}

// classifyFlow implements the §4.2 stuck/in_flow/available/offline ladder.
func classifyFlow(traces []*WorkTrace, hasUnresolvedEscalation bool, now time.Time) FlowStatus {
	if hasUnresolvedEscalation {
		return FlowStatus{State: FlowStuck}
	}

	var openTrace *WorkTrace
	for _, t := range traces {
		if t.CompletedAt == nil {
			openTrace = t
			break
		}
	}
	if openTrace != nil {
		cutoff := now.Add(-15 * time.Minute)
		var recent []WorkStep
		for _, st := range openTrace.Steps {
			if st.Timestamp.After(cutoff) {
				recent = append(recent, st)
			}
		}
		start := 0
		if len(recent) > 10 {
			start = len(recent) - 10
		}
		window := recent[start:]
		productive := 0
		var earliest time.Time
		for _, st := range window {
			if st.Outcome == OutcomeFound || st.Outcome == OutcomePartial {
				productive++
				if earliest.IsZero() || st.Timestamp.Before(earliest) {
					earliest = st.Timestamp
				}
			}
		}
		if productive >= 5 {
			return FlowStatus{State: FlowInFlow, DurationSecs: now.Sub(earliest).Seconds(), RespectFlow: true}
		}
	}

	for _, t := range traces {
		if now.Sub(t.StartedAt) < time.Hour {
			return FlowStatus{State: FlowAvailable}
		}
	}
	return FlowStatus{State: FlowOffline}
}

// streakAtRisk flags a soul with a still-open trace, newer than its most
// recent completed trace, that has been running longer than the
// time_exceeded threshold (10 minutes), threatening its current streak.
func streakAtRisk(traces []*WorkTrace, now time.Time) bool {
	for _, t := range traces {
		if t.CompletedAt != nil {
			return false
		}
		if now.Sub(t.StartedAt) > TimeExceededThreshold*time.Millisecond {
			return true
		}
	}
	return false
}

func nextLevelProjection(soul *Soul) string {
	for i := len(levelLadder) - 1; i >= 0; i-- {
		t := levelLadder[i]
		if t.level == soul.Level {
			continue
		}
		if t.xp > soul.TotalXP || t.streak > soul.CurrentStreak || t.tasks > soul.TasksCompleted {
			need := t.xp - soul.TotalXP
			if need < 0 {
				need = 0
			}
			return fmt.Sprintf("%d more xp to reach %s", need, t.level)
		}
	}
	return ""
}

func buildSuggestions(d *Dashboard) []string {
	var out []string
	if len(d.PendingEscalations) > 0 {
		out = append(out, "resolve your pending escalation before starting new work")
	}
	if d.Flow.State == FlowStuck {
		out = append(out, "consider asking a peer or pausing this session")
	}
	if d.Soul != nil && d.Soul.RustLevel > 0 {
		out = append(out, "it has been a while since your last session, ease back in")
	}
	if d.StreakAtRisk {
		out = append(out, "your current streak is at risk, wrap up the open trace")
	}
	if d.Flow.State == FlowInFlow {
		out = append(out, "you're in flow, keep going")
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
