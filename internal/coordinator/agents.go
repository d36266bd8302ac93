package coordinator

import (
	"github.com/coordhub/coordhub/internal/apierr"
	"github.com/coordhub/coordhub/internal/utils"
)

// AgentUpsert carries the fields a POST /coordinator/agents may update.
// Missing (nil) pointer fields preserve the prior value; LastSeen always
// advances to now regardless of what is supplied.
type AgentUpsert struct {
	AgentID      string
	Status       *AgentStatus
	CurrentTask  *string
	WorkingOn    *string
	Capabilities []string
	Offers       []string
	Needs        []string
}

// UpsertAgent merges the given fields into the existing agent row (creating
// it on first contact) and broadcasts agent-update.
func (c *Coordinator) UpsertAgent(in AgentUpsert) (*Agent, error) {
	if in.AgentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	if !utils.IsValidAgentName(in.AgentID) {
		return nil, apierr.Validationf("agentId must be 1-64 characters")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.getAgent(in.AgentID)
	if err != nil {
		return nil, apierr.Storagef(err, "load agent")
	}
	a := existing
	if a == nil {
		a = &Agent{AgentID: in.AgentID, Status: AgentIdle, Capabilities: []string{}, Offers: []string{}, Needs: []string{}}
	}
	if in.Status != nil {
		a.Status = *in.Status
	}
	if in.CurrentTask != nil {
		a.CurrentTask = *in.CurrentTask
	}
	if in.WorkingOn != nil {
		a.WorkingOn = *in.WorkingOn
	}
	if in.Capabilities != nil {
		a.Capabilities = in.Capabilities
	}
	if in.Offers != nil {
		a.Offers = in.Offers
	}
	if in.Needs != nil {
		a.Needs = in.Needs
	}
	a.LastSeen = clock()

	if err := c.store.upsertAgent(a); err != nil {
		return nil, apierr.Storagef(err, "save agent")
	}
	c.hub.broadcastJSON(WSAgentUpdate, a)
	return a, nil
}

// ListAgents returns every known agent.
func (c *Coordinator) ListAgents() ([]*Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agents, err := c.store.listAgents()
	if err != nil {
		return nil, apierr.Storagef(err, "list agents")
	}
	return agents, nil
}

// touchLastSeen refreshes an agent's lastSeen without changing status, used
// by the push channel's ping handler.
func (c *Coordinator) touchLastSeen(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, err := c.store.getAgent(agentID)
	if err != nil || a == nil {
		return
	}
	a.LastSeen = clock()
	_ = c.store.upsertAgent(a)
}

// markOffline is called when a push-channel subscription closes.
func (c *Coordinator) markOffline(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, err := c.store.getAgent(agentID)
	if err != nil || a == nil {
		return
	}
	a.Status = AgentOffline
	a.LastSeen = clock()
	_ = c.store.upsertAgent(a)
	c.hub.broadcastJSON(WSAgentUpdate, a)
}

// markActive promotes an agent to active (used by the push-channel welcome
// handshake and the /work snapshot).
func (c *Coordinator) markActive(agentID string) (*Agent, error) {
	a, err := c.store.getAgent(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "load agent")
	}
	if a == nil {
		a = &Agent{AgentID: agentID, Capabilities: []string{}, Offers: []string{}, Needs: []string{}}
	}
	a.Status = AgentActive
	a.LastSeen = clock()
	if err := c.store.upsertAgent(a); err != nil {
		return nil, apierr.Storagef(err, "save agent")
	}
	return a, nil
}
