package agentstate

import (
	"github.com/coordhub/coordhub/internal/apierr"
)

// SendMessage appends a direct message to agentID's inbox from sender.
func (m *Manager) SendMessage(agentID, from, msgType, content string) (*DirectMessage, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	if content == "" {
		return nil, apierr.Validationf("content is required")
	}
	if msgType == "" {
		msgType = "note"
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	dm := &DirectMessage{ID: newID("msg"), From: from, Type: msgType, Content: content, CreatedAt: clock()}
	if err := m.store.insertMessage(agentID, dm); err != nil {
		return nil, apierr.Storagef(err, "insert message")
	}
	return dm, nil
}

// ListMessages returns agentID's inbox, oldest first.
func (m *Manager) ListMessages(agentID string) ([]*DirectMessage, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	msgs, err := m.store.listMessages(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "list messages")
	}
	return msgs, nil
}

// MarkMessagesRead flags the given message ids as read.
func (m *Manager) MarkMessagesRead(agentID string, ids []string) error {
	if agentID == "" {
		return apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	if err := m.store.markMessagesRead(agentID, ids); err != nil {
		return apierr.Storagef(err, "mark messages read")
	}
	return nil
}
