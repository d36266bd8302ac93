package agentstate

import (
	"fmt"

	"github.com/coordhub/coordhub/internal/apierr"
)

// StepInput is the caller-supplied payload for Step; ID and Timestamp are
// stamped by the manager.
type StepInput struct {
	Tool             string
	Intent           string
	Outcome          StepOutcome
	DurationMs       int64
	ContributionType ContributionType
	KnowledgeGained  []string
	EliminatedPaths  []string
	DependsOn        []string
}

// TimeExceededThreshold is the time_exceeded trigger's window.
const TimeExceededThreshold = 10 * 60 * 1000 // ms, 10 minutes

// StartTrace opens a new WorkTrace for agentID. sessionID is generated if empty.
func (m *Manager) StartTrace(agentID, task, sessionID string) (*WorkTrace, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	if task == "" {
		return nil, apierr.Validationf("task is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	if sessionID == "" {
		sessionID = newID("trace")
	}
	t := &WorkTrace{SessionID: sessionID, Task: task, StartedAt: clock()}
	if err := m.store.insertTrace(agentID, t); err != nil {
		return nil, apierr.Storagef(err, "insert trace")
	}
	return t, nil
}

func (m *Manager) ownedTrace(agentID, sessionID string) (*WorkTrace, error) {
	t, owner, err := m.store.getTrace(sessionID)
	if err != nil {
		return nil, apierr.Storagef(err, "get trace")
	}
	if t == nil {
		return nil, apierr.NotFoundf("no such work trace %s", sessionID)
	}
	if owner != agentID {
		return nil, apierr.Ownershipf("work trace %s does not belong to agent %s", sessionID, agentID)
	}
	return t, nil
}

// GetTrace returns a work trace owned by agentID.
func (m *Manager) GetTrace(agentID, sessionID string) (*WorkTrace, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	return m.ownedTrace(agentID, sessionID)
}

// StepResult bundles the appended step with whatever escalation fired and
// the recommendation string keyed on the resulting highestLevel.
type StepResult struct {
	Step           WorkStep
	Escalation     *Escalation
	Recommendation string
}

// Step appends a step to sessionID's trace and evaluates the §4.2 escalation
// triggers against the updated trace.
func (m *Manager) Step(agentID, sessionID string, in StepInput) (*StepResult, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	trace, err := m.ownedTrace(agentID, sessionID)
	if err != nil {
		return nil, err
	}
	if trace.CompletedAt != nil {
		return nil, apierr.Statef("work trace %s is already complete", sessionID)
	}

	step := WorkStep{
		ID:               newID("step"),
		Timestamp:        clock(),
		Tool:             in.Tool,
		Intent:           in.Intent,
		Outcome:          in.Outcome,
		DurationMs:       in.DurationMs,
		ContributionType: in.ContributionType,
		KnowledgeGained:  in.KnowledgeGained,
		EliminatedPaths:  in.EliminatedPaths,
		DependsOn:        in.DependsOn,
	}
	seq := len(trace.Steps)
	if err := m.store.appendStep(sessionID, seq, &step); err != nil {
		return nil, apierr.Storagef(err, "append step")
	}
	trace.Steps = append(trace.Steps, step)

	triggers := evaluateTriggers(trace)
	result := &StepResult{Step: step}
	if len(triggers) > 0 {
		highest := 0
		for _, tr := range triggers {
			if tr.Level > highest {
				highest = tr.Level
			}
		}
		esc := &Escalation{
			ID:           newID("esc"),
			SessionID:    sessionID,
			TriggeredAt:  clock(),
			Triggers:     triggers,
			HighestLevel: highest,
		}
		if err := m.store.insertEscalation(agentID, esc); err != nil {
			return nil, apierr.Storagef(err, "insert escalation")
		}
		result.Escalation = esc
		result.Recommendation = recommendationFor(highest)
		m.emit("agentstate.escalation", map[string]interface{}{"agentId": agentID, "escalation": esc})
	} else {
		result.Recommendation = recommendationFor(0)
	}
	return result, nil
}

func recommendationFor(highestLevel int) string {
	switch {
	case highestLevel <= 0:
		return "continue"
	case highestLevel == 1:
		return "consider pause"
	case highestLevel == 2:
		return "pause & ask"
	default:
		return "human"
	}
}

// evaluateTriggers implements the §4.2 escalation trigger table against the
// trace as it stands after the most recent step was appended.
func evaluateTriggers(trace *WorkTrace) []Trigger {
	var triggers []Trigger
	steps := trace.Steps

	if tool, ok := stuckLoopTool(steps); ok {
		triggers = append(triggers, Trigger{
			Type:       "stuck_loop",
			Level:      2,
			Reason:     fmt.Sprintf("tool %q used repeatedly without progress in the last 5 steps", tool),
			DetectedAt: clock(),
		})
	}

	nothingCount, errorCount := 0, 0
	for _, s := range steps {
		switch s.Outcome {
		case OutcomeNothing:
			nothingCount++
		case OutcomeError:
			errorCount++
		}
	}
	if nothingCount >= 3 {
		triggers = append(triggers, Trigger{
			Type:       "repeated_failures",
			Level:      1,
			Reason:     fmt.Sprintf("%d steps returned no result", nothingCount),
			DetectedAt: clock(),
		})
	}
	if errorCount >= 2 {
		triggers = append(triggers, Trigger{
			Type:       "error_accumulation",
			Level:      2,
			Reason:     fmt.Sprintf("%d steps errored", errorCount),
			DetectedAt: clock(),
		})
	}
	if clock().Sub(trace.StartedAt).Milliseconds() > TimeExceededThreshold {
		triggers = append(triggers, Trigger{
			Type:       "time_exceeded",
			Level:      1,
			Reason:     "session has run for more than 10 minutes",
			DetectedAt: clock(),
		})
	}
	if len(steps) >= 5 {
		nonProductive := 0
		for _, s := range steps {
			if s.Outcome == OutcomeNothing || s.Outcome == OutcomeError || s.ContributionType == ContributionMinimal {
				nonProductive++
			}
		}
		if float64(nonProductive)/float64(len(steps)) > 0.6 {
			triggers = append(triggers, Trigger{
				Type:       "low_efficiency",
				Level:      1,
				Reason:     "more than 60% of steps have been non-productive",
				DetectedAt: clock(),
			})
		}
	}
	return triggers
}

// stuckLoopTool reports whether any tool was used in >=3 of the last 5
// steps with only nothing/partial outcomes.
func stuckLoopTool(steps []WorkStep) (string, bool) {
	start := 0
	if len(steps) > 5 {
		start = len(steps) - 5
	}
	window := steps[start:]
	counts := map[string]int{}
	for _, s := range window {
		if s.Outcome == OutcomeNothing || s.Outcome == OutcomePartial {
			counts[s.Tool]++
		}
	}
	for tool, n := range counts {
		if n >= 3 {
			return tool, true
		}
	}
	return "", false
}

// CompleteTrace computes the completion summary and stamps completedAt.
func (m *Manager) CompleteTrace(agentID, sessionID string) (*WorkTrace, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	trace, err := m.ownedTrace(agentID, sessionID)
	if err != nil {
		return nil, err
	}
	if trace.CompletedAt != nil {
		return trace, nil
	}

	summary := computeSummary(trace.Steps)
	now := clock()
	if err := m.store.completeTrace(sessionID, now, summary); err != nil {
		return nil, apierr.Storagef(err, "complete trace")
	}
	trace.CompletedAt = &now
	trace.Summary = summary
	m.emit("agentstate.trace-complete", map[string]interface{}{"agentId": agentID, "trace": trace})
	return trace, nil
}

// computeSummary derives the §3 summary fields from a trace's steps. The
// first step with outcome=found or contributionType=direct is treated as
// the start of the solution phase; everything before it is exploration.
func computeSummary(steps []WorkStep) *TraceSummary {
	s := &TraceSummary{TotalSteps: len(steps)}
	solutionStart := -1
	for i, st := range steps {
		if st.Outcome == OutcomeNothing || st.Outcome == OutcomeError {
			s.DeadEnds++
		}
		if solutionStart == -1 && (st.Outcome == OutcomeFound || st.ContributionType == ContributionDirect) {
			solutionStart = i
		}
	}
	for i, st := range steps {
		if solutionStart != -1 && i >= solutionStart {
			s.SolutionTimeMs += st.DurationMs
		} else {
			s.ExplorationTimeMs += st.DurationMs
		}
	}
	total := s.ExplorationTimeMs + s.SolutionTimeMs
	if total > 0 {
		s.Efficiency = float64(s.SolutionTimeMs) / float64(total)
	}
	return s
}

// ListTraces returns all traces recorded for agentID, most recent first.
func (m *Manager) ListTraces(agentID string) ([]*WorkTrace, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	traces, err := m.store.listTraces(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "list traces")
	}
	return traces, nil
}

// ListEscalations returns every escalation recorded against sessionID.
func (m *Manager) ListEscalations(agentID, sessionID string) ([]*Escalation, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	if _, err := m.ownedTrace(agentID, sessionID); err != nil {
		return nil, err
	}
	escs, err := m.store.listEscalationsForSession(sessionID)
	if err != nil {
		return nil, apierr.Storagef(err, "list escalations")
	}
	return escs, nil
}

// ResolveEscalation closes out one escalation.
func (m *Manager) ResolveEscalation(agentID, escalationID string, resolvedBy ResolvedBy, resolverAgent, hint string) (*Escalation, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	switch resolvedBy {
	case ResolvedBySelf, ResolvedByPeer, ResolvedByHuman:
	default:
		return nil, apierr.Validationf("resolvedBy must be one of self, peer, human")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	esc, err := m.store.getEscalation(escalationID)
	if err != nil {
		return nil, apierr.Storagef(err, "get escalation")
	}
	if esc == nil {
		return nil, apierr.NotFoundf("no such escalation %s", escalationID)
	}
	if _, err := m.ownedTrace(agentID, esc.SessionID); err != nil {
		return nil, err
	}

	now := clock()
	if err := m.store.resolveEscalation(escalationID, now, resolvedBy, resolverAgent, hint); err != nil {
		return nil, apierr.Storagef(err, "resolve escalation")
	}
	esc.ResolvedAt = &now
	esc.ResolvedBy = resolvedBy
	esc.ResolverAgent = resolverAgent
	esc.HelpfulHint = hint
	return esc, nil
}
