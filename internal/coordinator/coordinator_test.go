package coordinator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coordhub/coordhub/internal/apierr"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	dir := t.TempDir()
	c, err := New(filepath.Join(dir, "coordinator.db"), nil)
	require.NoError(t, err)
	return c
}

func TestTaskPickupRace(t *testing.T) {
	c := newTestCoordinator(t)
	task, err := c.CreateTask(TaskCreate{Title: "ship", Priority: PriorityHigh, CreatedBy: "u"})
	require.NoError(t, err)

	winner, errA := c.Pickup(task.ID, "agent-a")
	_, errB := c.Pickup(task.ID, "agent-b")

	require.NoError(t, errA)
	require.Equal(t, "agent-a", winner.Assignee)
	require.Equal(t, TaskInProgress, winner.Status)

	require.Error(t, errB)
	ae, ok := apierr.As(errB)
	require.True(t, ok)
	require.Equal(t, apierr.Contention, ae.Kind)
	require.Equal(t, "agent-a", ae.Details["assignedTo"])

	_, err = c.Complete(task.ID, "agent-b")
	require.Error(t, err)
	ae, ok = apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.Ownership, ae.Kind)
}

func TestTaskPickupIdempotentForWinner(t *testing.T) {
	c := newTestCoordinator(t)
	task, err := c.CreateTask(TaskCreate{Title: "ship", CreatedBy: "u"})
	require.NoError(t, err)

	_, err = c.Pickup(task.ID, "agent-a")
	require.NoError(t, err)

	// Second pickup by the same agent is rejected (not todo anymore -> state error).
	_, err = c.Pickup(task.ID, "agent-a")
	require.Error(t, err)
	ae, _ := apierr.As(err)
	require.Equal(t, apierr.State, ae.Kind)
}

func TestHandoffRoundTrip(t *testing.T) {
	c := newTestCoordinator(t)
	h, err := c.CreateHandoff(HandoffCreate{FromAgent: "alice", Title: "X", Context: "c", Priority: PriorityMedium})
	require.NoError(t, err)
	require.Equal(t, HandoffPending, h.Status)

	h, err = c.ClaimHandoff(h.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, HandoffClaimed, h.Status)
	require.Equal(t, "bob", h.ClaimedBy)

	_, err = c.CompleteHandoff(h.ID, "carol")
	require.Error(t, err)
	ae, _ := apierr.As(err)
	require.Equal(t, apierr.Ownership, ae.Kind)

	h, err = c.CompleteHandoff(h.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, HandoffCompleted, h.Status)
	require.NotNil(t, h.CompletedAt)
}

func TestClaimRoundTrip(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.Claim("design-doc", "agent-a", "writing the design")
	require.NoError(t, err)

	_, err = c.Claim("design-doc", "agent-b", "")
	require.Error(t, err)
	ae, _ := apierr.As(err)
	require.Equal(t, apierr.Contention, ae.Kind)

	err = c.ReleaseClaim("design-doc", "agent-a")
	require.NoError(t, err)

	cl, err := c.Claim("design-doc", "agent-b", "")
	require.NoError(t, err)
	require.Equal(t, "agent-b", cl.By)
}

func TestClaimStalenessBoundary(t *testing.T) {
	c := newTestCoordinator(t)
	now := time.Now()
	restore := clock
	clock = func() time.Time { return now.Add(-ClaimStaleAfter + time.Millisecond) }
	_, err := c.Claim("thing", "agent-a", "")
	require.NoError(t, err)
	clock = func() time.Time { return now }
	claims, err := c.ListClaims(true)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.False(t, claims[0].Stale, "1ms inside the window must not be stale")

	clock = func() time.Time { return now.Add(-ClaimStaleAfter - time.Millisecond) }
	_, err = c.Claim("other", "agent-a", "")
	require.NoError(t, err)
	clock = func() time.Time { return now }
	claims, err = c.ListClaims(true)
	require.NoError(t, err)
	var other *Claim
	for _, cl := range claims {
		if cl.What == "other" {
			other = cl
		}
	}
	require.NotNil(t, other)
	require.True(t, other.Stale, "1ms beyond the window must be stale")
	clock = restore
}

func TestZoneLongestPrefixQuery(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.ClaimZone("z1", "/src", "agent-a", "")
	require.NoError(t, err)
	_, err = c.ClaimZone("z2", "/src/auth", "agent-b", "")
	require.NoError(t, err)

	z, err := c.QueryZonePath("/src/auth/login.go")
	require.NoError(t, err)
	require.NotNil(t, z)
	require.Equal(t, "z2", z.ZoneID)

	z2, err := c.QueryZonePath("/src/auth/login.go")
	require.NoError(t, err)
	require.Equal(t, z.ZoneID, z2.ZoneID, "resolving the same path twice must yield the same zone")

	z3, err := c.QueryZonePath("/other")
	require.NoError(t, err)
	require.Nil(t, z3)
}

func TestZoneReleaseRequiresOwner(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.ClaimZone("z1", "/src", "agent-a", "")
	require.NoError(t, err)
	err = c.ReleaseZone("z1", "agent-b")
	require.Error(t, err)
	err = c.ReleaseZone("z1", "agent-a")
	require.NoError(t, err)
}

func TestAgentUpsertPreservesUnsetFields(t *testing.T) {
	c := newTestCoordinator(t)
	active := AgentActive
	a, err := c.UpsertAgent(AgentUpsert{AgentID: "agent-a", Status: &active, Capabilities: []string{"go"}})
	require.NoError(t, err)
	require.Equal(t, AgentActive, a.Status)

	task := "task-1"
	a, err = c.UpsertAgent(AgentUpsert{AgentID: "agent-a", CurrentTask: &task})
	require.NoError(t, err)
	require.Equal(t, AgentActive, a.Status, "status must be preserved when not supplied")
	require.Equal(t, []string{"go"}, a.Capabilities, "capabilities must be preserved when not supplied")
	require.Equal(t, "task-1", a.CurrentTask)
}

func TestWorkBundlePromotesAgentAndSplitsTasks(t *testing.T) {
	c := newTestCoordinator(t)
	todo, err := c.CreateTask(TaskCreate{Title: "todo-task", CreatedBy: "u"})
	require.NoError(t, err)
	mine, err := c.CreateTask(TaskCreate{Title: "mine", CreatedBy: "u"})
	require.NoError(t, err)
	_, err = c.Pickup(mine.ID, "agent-a")
	require.NoError(t, err)

	bundle, err := c.WorkBundleFor("agent-a")
	require.NoError(t, err)
	require.Len(t, bundle.Tasks.Todo, 1)
	require.Equal(t, todo.ID, bundle.Tasks.Todo[0].ID)
	require.Len(t, bundle.Tasks.Mine, 1)
	require.Equal(t, mine.ID, bundle.Tasks.Mine[0].ID)
	require.Len(t, bundle.InProgressTasks, 1)

	agents, err := c.ListAgents()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, AgentActive, agents[0].Status)
}

func TestOnboardingSelectsResumeTask(t *testing.T) {
	c := newTestCoordinator(t)
	c.onboarder = fakeOnboarder{pendingWork: []string{"finish parser"}}

	bundle, err := c.Onboard("alice")
	require.NoError(t, err)
	require.Equal(t, "finish parser", bundle.SuggestedTask.Task)
	require.Contains(t, bundle.SuggestedTask.Reason, "previous session")
	require.Equal(t, 30, bundle.SuggestedTask.XPEstimate)
}

func TestOnboardingFallsBackToPendingHandoffThenTodoThenIntroduce(t *testing.T) {
	c := newTestCoordinator(t)

	bundle, err := c.Onboard("alice")
	require.NoError(t, err)
	require.Equal(t, "introduce yourself in chat", bundle.SuggestedTask.Task)

	task, err := c.CreateTask(TaskCreate{Title: "unassigned work", CreatedBy: "u"})
	require.NoError(t, err)
	bundle, err = c.Onboard("alice")
	require.NoError(t, err)
	require.Equal(t, task.Title, bundle.SuggestedTask.Task)

	_, err = c.CreateHandoff(HandoffCreate{FromAgent: "bob", Title: "handoff-title", Context: "ctx"})
	require.NoError(t, err)
	bundle, err = c.Onboard("alice")
	require.NoError(t, err)
	require.Equal(t, "handoff-title", bundle.SuggestedTask.Task)
}

type fakeOnboarder struct {
	pendingWork []string
}

func (f fakeOnboarder) EnsureSoul(agentID string) (interface{}, bool, error) {
	return map[string]string{"agentId": agentID, "level": "novice"}, true, nil
}

func (f fakeOnboarder) GetCheckpointSummary(agentID string) ([]string, string, bool, error) {
	if len(f.pendingWork) == 0 {
		return nil, "", false, nil
	}
	return f.pendingWork, "", true, nil
}

func (f fakeOnboarder) GetDashboardSnapshot(agentID string) (interface{}, bool, error) {
	return nil, false, nil
}

