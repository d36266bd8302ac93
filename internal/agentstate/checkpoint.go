package agentstate

import (
	"github.com/coordhub/coordhub/internal/apierr"
)

// CheckpointPatch is a field-level merge: nil slices and nil string pointers
// leave the stored value untouched, matching the Coordinator agent-upsert
// pattern.
type CheckpointPatch struct {
	ConversationSummary *string
	Accomplishments     []string
	PendingWork         []string
	RecentContext       *string
	FilesEdited         []string
}

// SaveCheckpoint merges patch into the agent's existing checkpoint (or
// creates one) and stamps checkpointAt to now.
func (m *Manager) SaveCheckpoint(agentID string, patch CheckpointPatch) (*Checkpoint, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	cp, err := m.store.getCheckpoint(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "get checkpoint")
	}
	if cp == nil {
		cp = &Checkpoint{}
	}
	if patch.ConversationSummary != nil {
		cp.ConversationSummary = *patch.ConversationSummary
	}
	if patch.Accomplishments != nil {
		cp.Accomplishments = patch.Accomplishments
	}
	if patch.PendingWork != nil {
		cp.PendingWork = patch.PendingWork
	}
	if patch.RecentContext != nil {
		cp.RecentContext = *patch.RecentContext
	}
	if patch.FilesEdited != nil {
		cp.FilesEdited = patch.FilesEdited
	}
	cp.CheckpointAt = clock()

	if err := m.store.putCheckpoint(agentID, cp); err != nil {
		return nil, apierr.Storagef(err, "put checkpoint")
	}
	return cp, nil
}

// GetCheckpoint returns the agent's checkpoint, or nil if none was ever saved.
func (m *Manager) GetCheckpoint(agentID string) (*Checkpoint, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	cp, err := m.store.getCheckpoint(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "get checkpoint")
	}
	return cp, nil
}

// GetCheckpointSummary implements the coordinator.Onboarder dependency: it
// reports whether a checkpoint exists and its pending work / summary, the
// minimum slice Coordinator needs to compute its suggested task.
func (m *Manager) GetCheckpointSummary(agentID string) ([]string, string, bool, error) {
	cp, err := m.GetCheckpoint(agentID)
	if err != nil {
		return nil, "", false, err
	}
	if cp == nil {
		return nil, "", false, nil
	}
	return cp.PendingWork, cp.ConversationSummary, true, nil
}
