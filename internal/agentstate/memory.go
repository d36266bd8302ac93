package agentstate

import (
	"strings"

	"github.com/coordhub/coordhub/internal/apierr"
)

// MaxMemorySearchResults bounds the free-text/category search per §4.2.
const MaxMemorySearchResults = 50

// RecordMemory appends one fact to agentID's memory.
func (m *Manager) RecordMemory(agentID, category, content string, tags []string) (*MemoryEntry, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	if category == "" {
		return nil, apierr.Validationf("category is required")
	}
	if content == "" {
		return nil, apierr.Validationf("content is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	entry := &MemoryEntry{ID: newID("mem"), Category: category, Content: content, Tags: tags, CreatedAt: clock()}
	if err := m.store.insertMemory(agentID, entry); err != nil {
		return nil, apierr.Storagef(err, "insert memory")
	}
	return entry, nil
}

// SearchMemory returns agentID's memory entries matching category (if
// non-empty) and a free-text substring against content and tags (if
// non-empty), most recent first, capped at MaxMemorySearchResults.
func (m *Manager) SearchMemory(agentID, category, query string) ([]*MemoryEntry, error) {
	if agentID == "" {
		return nil, apierr.Validationf("agentId is required")
	}
	l := m.lockFor(agentID)
	l.Lock()
	defer l.Unlock()

	all, err := m.store.listMemory(agentID)
	if err != nil {
		return nil, apierr.Storagef(err, "list memory")
	}

	q := strings.ToLower(query)
	var out []*MemoryEntry
	for _, e := range all {
		if category != "" && e.Category != category {
			continue
		}
		if q != "" && !matchesQuery(e, q) {
			continue
		}
		out = append(out, e)
		if len(out) == MaxMemorySearchResults {
			break
		}
	}
	return out, nil
}

func matchesQuery(e *MemoryEntry, q string) bool {
	if strings.Contains(strings.ToLower(e.Content), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}
