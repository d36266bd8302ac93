package agentstate

import (
	"github.com/coordhub/coordhub/internal/apierr"
)

func defaultShadow() *ShadowMonitor {
	return &ShadowMonitor{
		ShadowStatus:        ShadowNone,
		HeartbeatIntervalMs: DefaultHeartbeatIntervalMs,
		StallThresholdMs:    DefaultStallThresholdMs,
	}
}

func (m *Manager) getOrInitShadow(agentID string) (*ShadowMonitor, error) {
	sm, err := m.store.getShadow(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "get shadow monitor")
	}
	if sm == nil {
		sm = defaultShadow()
	}
	return sm, nil
}

// GetShadow returns agentID's shadow monitor, deriving isHealthy.
func (m *Manager) GetShadow(agentID string) (*ShadowMonitor, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	sm, err := m.getOrInitShadow(agentID)
	if err != nil {
		return nil, err
	}
	return deriveHealth(sm), nil
}

func deriveHealth(sm *ShadowMonitor) *ShadowMonitor {
	out := *sm
	if sm.LastHeartbeat != nil {
		out.IsHealthy = clock().Sub(*sm.LastHeartbeat).Milliseconds() < int64(sm.StallThresholdMs)
	}
	return &out
}

// RegisterShadow sets this agent up to monitor shadowId for takeover,
// entering the `monitoring` status.
func (m *Manager) RegisterShadow(agentID, shadowID string, stallThresholdMs, heartbeatIntervalMs int) (*ShadowMonitor, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	sm, err := m.getOrInitShadow(agentID)
	if err != nil {
		return nil, err
	}
	sm.ShadowID = shadowID
	sm.ShadowStatus = ShadowMonitoring
	if stallThresholdMs > 0 {
		sm.StallThresholdMs = stallThresholdMs
	}
	if heartbeatIntervalMs > 0 {
		sm.HeartbeatIntervalMs = heartbeatIntervalMs
	}
	now := clock()
	sm.RegisteredAt = &now
	if err := m.store.putShadow(agentID, sm); err != nil {
		return nil, apierr.Storagef(err, "put shadow monitor")
	}
	return deriveHealth(sm), nil
}

// BecomeShadow marks agentID as standing in for primaryAgent.
func (m *Manager) BecomeShadow(agentID, primaryAgent string) (*ShadowMonitor, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	if primaryAgent == "" {
		return nil, apierr.Validationf("primaryAgent is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	sm, err := m.getOrInitShadow(agentID)
	if err != nil {
		return nil, err
	}
	sm.IsShadow = true
	sm.PrimaryAgent = primaryAgent
	sm.ShadowStatus = ShadowMonitoring
	if err := m.store.putShadow(agentID, sm); err != nil {
		return nil, apierr.Storagef(err, "put shadow monitor")
	}
	return deriveHealth(sm), nil
}

// Takeover transitions agentID's shadow monitor to taken-over.
func (m *Manager) Takeover(agentID string) (*ShadowMonitor, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	sm, err := m.getOrInitShadow(agentID)
	if err != nil {
		return nil, err
	}
	sm.ShadowStatus = ShadowTakenOver
	now := clock()
	sm.TakeoverAt = &now
	if err := m.store.putShadow(agentID, sm); err != nil {
		return nil, apierr.Storagef(err, "put shadow monitor")
	}
	result := deriveHealth(sm)
	m.emit("agentstate.takeover", map[string]interface{}{"agentId": agentID, "shadow": result})
	return result, nil
}

// Heartbeat records one liveness tick and updates lastHeartbeat.
func (m *Manager) Heartbeat(agentID string, tokensUsed int, currentTask, status string) (*ShadowMonitor, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	now := clock()
	hb := &Heartbeat{Timestamp: now, TokensUsed: tokensUsed, CurrentTask: currentTask, Status: status}
	if err := m.store.appendHeartbeat(agentID, hb); err != nil {
		return nil, apierr.Storagef(err, "append heartbeat")
	}

	sm, err := m.getOrInitShadow(agentID)
	if err != nil {
		return nil, err
	}
	sm.LastHeartbeat = &now
	if err := m.store.putShadow(agentID, sm); err != nil {
		return nil, apierr.Storagef(err, "put shadow monitor")
	}
	result := deriveHealth(sm)
	m.emit("agentstate.heartbeat", map[string]interface{}{"agentId": agentID, "shadow": result})
	return result, nil
}

// ListHeartbeats returns the most recent heartbeats, newest first, capped
// at MaxHeartbeats.
func (m *Manager) ListHeartbeats(agentID string) ([]*Heartbeat, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	hbs, err := m.store.listHeartbeats(agentID, MaxHeartbeats)
	if err != nil {
		return nil, apierr.Storagef(err, "list heartbeats")
	}
	return hbs, nil
}
