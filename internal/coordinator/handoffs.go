package coordinator

import "github.com/coordhub/coordhub/internal/apierr"

// HandoffCreate carries the fields for creating a new Handoff.
type HandoffCreate struct {
	FromAgent string
	ToAgent   string
	Title     string
	Context   string
	Code      string
	FilePath  string
	NextSteps []string
	Priority  TaskPriority
}

// CreateHandoff creates a new pending handoff and broadcasts
// task-update{action: handoff-created}.
func (c *Coordinator) CreateHandoff(in HandoffCreate) (*Handoff, error) {
	if in.FromAgent == "" || in.Title == "" || in.Context == "" {
		return nil, apierr.Validationf("fromAgent, title, and context are required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h := &Handoff{
		ID:        newID("handoff"),
		FromAgent: in.FromAgent,
		ToAgent:   in.ToAgent,
		Title:     in.Title,
		Context:   in.Context,
		Code:      in.Code,
		FilePath:  in.FilePath,
		NextSteps: in.NextSteps,
		Priority:  in.Priority,
		Status:    HandoffPending,
		CreatedAt: clock(),
	}
	if h.NextSteps == nil {
		h.NextSteps = []string{}
	}
	if err := c.store.upsertHandoff(h); err != nil {
		return nil, apierr.Storagef(err, "create handoff")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "handoff-created", "handoff": h})
	return h, nil
}

func (c *Coordinator) requireHandoffLocked(id string) (*Handoff, error) {
	h, err := c.store.getHandoff(id)
	if err != nil {
		return nil, apierr.Storagef(err, "load handoff")
	}
	if h == nil {
		return nil, apierr.NotFoundf("handoff %s not found", id)
	}
	return h, nil
}

// ClaimHandoff transitions pending->claimed. If toAgent was set at
// creation, only that agent may claim it.
func (c *Coordinator) ClaimHandoff(id, agentID string) (*Handoff, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.requireHandoffLocked(id)
	if err != nil {
		return nil, err
	}
	if h.Status != HandoffPending {
		return nil, apierr.Statef("handoff %s is not pending (status=%s)", id, h.Status)
	}
	if h.ToAgent != "" && h.ToAgent != agentID {
		return nil, apierr.Ownershipf("handoff %s is addressed to %s", id, h.ToAgent)
	}
	now := clock()
	h.Status = HandoffClaimed
	h.ClaimedBy = agentID
	h.ClaimedAt = &now
	if err := c.store.upsertHandoff(h); err != nil {
		return nil, apierr.Storagef(err, "claim handoff")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "handoff-claimed", "handoff": h})
	return h, nil
}

// CompleteHandoff transitions claimed->completed; only claimedBy may call it.
func (c *Coordinator) CompleteHandoff(id, agentID string) (*Handoff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.requireHandoffLocked(id)
	if err != nil {
		return nil, err
	}
	if h.Status != HandoffClaimed {
		return nil, apierr.Statef("handoff %s is not claimed (status=%s)", id, h.Status)
	}
	if h.ClaimedBy != agentID {
		return nil, apierr.Ownershipf("handoff %s is claimed by %s", id, h.ClaimedBy)
	}
	now := clock()
	h.Status = HandoffCompleted
	h.CompletedAt = &now
	if err := c.store.upsertHandoff(h); err != nil {
		return nil, apierr.Storagef(err, "complete handoff")
	}
	c.hub.broadcastJSON(WSTaskUpdate, map[string]interface{}{"action": "handoff-completed", "handoff": h})
	return h, nil
}

// ListHandoffs returns every handoff, newest first.
func (c *Coordinator) ListHandoffs() ([]*Handoff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handoffs, err := c.store.listHandoffs()
	if err != nil {
		return nil, apierr.Storagef(err, "list handoffs")
	}
	return handoffs, nil
}
