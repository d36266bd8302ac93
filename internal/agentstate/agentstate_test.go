package agentstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "agentstate.db"))
	require.NoError(t, err)
	return m
}

func TestCheckpointFieldLevelMerge(t *testing.T) {
	m := newTestManager(t)
	summary := "working on the parser"
	cp, err := m.SaveCheckpoint("alice", CheckpointPatch{ConversationSummary: &summary, PendingWork: []string{"finish parser"}})
	require.NoError(t, err)
	require.Equal(t, "working on the parser", cp.ConversationSummary)

	files := []string{"main.go"}
	cp, err = m.SaveCheckpoint("alice", CheckpointPatch{FilesEdited: files})
	require.NoError(t, err)
	require.Equal(t, "working on the parser", cp.ConversationSummary, "unset fields must be preserved")
	require.Equal(t, []string{"finish parser"}, cp.PendingWork, "unset fields must be preserved")
	require.Equal(t, files, cp.FilesEdited)
}

func TestMessagesReadFlag(t *testing.T) {
	m := newTestManager(t)
	dm, err := m.SendMessage("alice", "bob", "note", "hey")
	require.NoError(t, err)
	require.False(t, dm.Read)

	err = m.MarkMessagesRead("alice", []string{dm.ID})
	require.NoError(t, err)

	msgs, err := m.ListMessages("alice")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Read)
}

func TestMemorySearchByCategoryAndText(t *testing.T) {
	m := newTestManager(t)
	_, err := m.RecordMemory("alice", "bug", "auth middleware drops sessions", []string{"auth"})
	require.NoError(t, err)
	_, err = m.RecordMemory("alice", "fact", "the build uses go 1.25", []string{"build"})
	require.NoError(t, err)

	byCategory, err := m.SearchMemory("alice", "bug", "")
	require.NoError(t, err)
	require.Len(t, byCategory, 1)

	byText, err := m.SearchMemory("alice", "", "sessions")
	require.NoError(t, err)
	require.Len(t, byText, 1)

	byTag, err := m.SearchMemory("alice", "", "build")
	require.NoError(t, err)
	require.Len(t, byTag, 1)
}

func TestEscalationFiringOnStuckLoop(t *testing.T) {
	m := newTestManager(t)
	trace, err := m.StartTrace("alice", "fix the bug", "")
	require.NoError(t, err)

	var result *StepResult
	for i := 0; i < 3; i++ {
		result, err = m.Step("alice", trace.SessionID, StepInput{Tool: "grep", Intent: "search", Outcome: OutcomeNothing, DurationMs: 1000})
		require.NoError(t, err)
	}
	require.NotNil(t, result.Escalation)
	require.Equal(t, 2, result.Escalation.HighestLevel)
	types := map[string]int{}
	for _, tr := range result.Escalation.Triggers {
		types[tr.Type] = tr.Level
	}
	require.Equal(t, 2, types["stuck_loop"])
	require.Equal(t, 1, types["repeated_failures"])
	require.Contains(t, result.Recommendation, "pause")
}

func TestWorkTraceSummaryEfficiencyBounds(t *testing.T) {
	m := newTestManager(t)
	trace, err := m.StartTrace("alice", "task", "")
	require.NoError(t, err)

	_, err = m.Step("alice", trace.SessionID, StepInput{Tool: "grep", Outcome: OutcomeNothing, DurationMs: 3000})
	require.NoError(t, err)
	_, err = m.Step("alice", trace.SessionID, StepInput{Tool: "edit", Outcome: OutcomeFound, ContributionType: ContributionDirect, DurationMs: 1000})
	require.NoError(t, err)

	completed, err := m.CompleteTrace("alice", trace.SessionID)
	require.NoError(t, err)
	require.Equal(t, int64(3000), completed.Summary.ExplorationTimeMs)
	require.Equal(t, int64(1000), completed.Summary.SolutionTimeMs)
	require.InDelta(t, 0.25, completed.Summary.Efficiency, 0.0001)
	require.GreaterOrEqual(t, completed.Summary.Efficiency, 0.0)
	require.LessOrEqual(t, completed.Summary.Efficiency, 1.0)
}

func TestWorkTraceSummaryZeroDuration(t *testing.T) {
	m := newTestManager(t)
	trace, err := m.StartTrace("alice", "task", "")
	require.NoError(t, err)
	completed, err := m.CompleteTrace("alice", trace.SessionID)
	require.NoError(t, err)
	require.Equal(t, 0.0, completed.Summary.Efficiency, "zero-duration trace must not divide by zero")
}

func TestSoulLevelPromotionBoundary(t *testing.T) {
	require.Equal(t, LevelCapable, levelFor(100, 3, 5))
	require.Equal(t, LevelNovice, levelFor(99, 3, 5), "missing xp keeps novice")
	require.Equal(t, LevelNovice, levelFor(100, 2, 5), "missing streak keeps novice")
	require.Equal(t, LevelNovice, levelFor(100, 3, 4), "missing tasks keeps novice")
}

func TestSoulLevelUpGrantsAbilities(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.ensureSoul("alice", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		trace, err := m.StartTrace("alice", "task", "")
		require.NoError(t, err)
		_, err = m.Step("alice", trace.SessionID, StepInput{Tool: "edit", Outcome: OutcomeFound, ContributionType: ContributionDirect, DurationMs: 100})
		require.NoError(t, err)
		_, err = m.CompleteTrace("alice", trace.SessionID)
		require.NoError(t, err)
		_, err = m.UpdateFromTrace("alice", trace.SessionID, "")
		require.NoError(t, err)
	}

	soul, err := m.GetSoul("alice")
	require.NoError(t, err)
	require.Equal(t, 5, soul.TasksCompleted)
	require.Equal(t, 5, soul.CurrentStreak)
	require.GreaterOrEqual(t, soul.TotalXP, 100)
	require.Equal(t, LevelCapable, soul.Level)
	require.True(t, soul.Abilities.CanCommit)
}

func TestStreakResetNeverExceedsLongest(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.ensureSoul("alice", "")
	require.NoError(t, err)

	trace, err := m.StartTrace("alice", "task", "")
	require.NoError(t, err)
	_, err = m.Step("alice", trace.SessionID, StepInput{Tool: "edit", Outcome: OutcomeFound, ContributionType: ContributionDirect, DurationMs: 100})
	require.NoError(t, err)
	_, err = m.CompleteTrace("alice", trace.SessionID)
	require.NoError(t, err)
	_, err = m.UpdateFromTrace("alice", trace.SessionID, "")
	require.NoError(t, err)

	trace2, err := m.StartTrace("alice", "task-2", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = m.Step("alice", trace2.SessionID, StepInput{Tool: "edit", Outcome: OutcomeNothing, DurationMs: 100})
		require.NoError(t, err)
	}
	_, err = m.CompleteTrace("alice", trace2.SessionID)
	require.NoError(t, err)
	_, err = m.ResolveEscalation("alice", mustLatestEscalation(t, m, trace2.SessionID).ID, ResolvedByHuman, "human-1", "")
	require.NoError(t, err)
	_, err = m.UpdateFromTrace("alice", trace2.SessionID, "")
	require.NoError(t, err)

	soul, err := m.GetSoul("alice")
	require.NoError(t, err)
	require.Equal(t, 0, soul.CurrentStreak)
	require.LessOrEqual(t, soul.CurrentStreak, soul.LongestStreak)
	require.Equal(t, 1, soul.LongestStreak)
}

func mustLatestEscalation(t *testing.T, m *Manager, sessionID string) *Escalation {
	t.Helper()
	escs, err := m.store.listEscalationsForSession(sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, escs)
	return escs[len(escs)-1]
}

func TestRustBoundarySwitchesMultiplier(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.ensureSoul("alice", "")
	require.NoError(t, err)

	trace, err := m.StartTrace("alice", "task", "")
	require.NoError(t, err)
	_, err = m.Step("alice", trace.SessionID, StepInput{Tool: "edit", Outcome: OutcomeFound, ContributionType: ContributionDirect, DurationMs: 100})
	require.NoError(t, err)
	_, err = m.CompleteTrace("alice", trace.SessionID)
	require.NoError(t, err)
	_, err = m.UpdateFromTrace("alice", trace.SessionID, "")
	require.NoError(t, err)

	restore := clock
	defer func() { clock = restore }()

	base := restore()
	clock = func() time.Time { return base.Add(6*24*time.Hour + 23*time.Hour) }
	soul, err := m.GetSoul("alice")
	require.NoError(t, err)
	require.Equal(t, 0.0, soul.RustLevel)
	require.Equal(t, 1.0, soul.EffectiveXPMultiplier)

	clock = func() time.Time { return base.Add(7*24*time.Hour + time.Hour) }
	soul, err = m.GetSoul("alice")
	require.NoError(t, err)
	require.Equal(t, 0.2, soul.RustLevel)
	require.Equal(t, 0.9, soul.EffectiveXPMultiplier)
}

func TestDashboardStuckWhenEscalationUnresolved(t *testing.T) {
	m := newTestManager(t)
	trace, err := m.StartTrace("alice", "task", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = m.Step("alice", trace.SessionID, StepInput{Tool: "grep", Outcome: OutcomeNothing, DurationMs: 100})
		require.NoError(t, err)
	}
	d, err := m.GetDashboard("alice")
	require.NoError(t, err)
	require.Equal(t, FlowStuck, d.Flow.State)
	require.Len(t, d.PendingEscalations, 1)
}

func TestShadowHealthDerivedFromHeartbeat(t *testing.T) {
	m := newTestManager(t)
	_, err := m.RegisterShadow("shadow-1", "watcher", 1000, 500)
	require.NoError(t, err)

	_, err = m.Heartbeat("shadow-1", 10, "watching", "ok")
	require.NoError(t, err)

	sm, err := m.GetShadow("shadow-1")
	require.NoError(t, err)
	require.True(t, sm.IsHealthy)

	restore := clock
	clock = func() time.Time { return restore().Add(2 * time.Second) }
	defer func() { clock = restore }()

	sm, err = m.GetShadow("shadow-1")
	require.NoError(t, err)
	require.False(t, sm.IsHealthy, "heartbeat older than stallThresholdMs must be unhealthy")
}
