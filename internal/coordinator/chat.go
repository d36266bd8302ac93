package coordinator

import (
	"strings"

	"github.com/coordhub/coordhub/internal/apierr"
)

// AppendChat stores message with a fresh id and server timestamp and
// broadcasts it to every push-channel subscriber.
func (c *Coordinator) AppendChat(author string, authorType AuthorType, message string) (*ChatMessage, error) {
	if author == "" || message == "" {
		return nil, apierr.Validationf("author and message are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendChatLocked(author, authorType, message)
}

func (c *Coordinator) appendChatLocked(author string, authorType AuthorType, message string) (*ChatMessage, error) {
	m := &ChatMessage{
		ID:         newID("chat"),
		Author:     author,
		AuthorType: authorType,
		Message:    message,
		Timestamp:  clock(),
		Reactions:  []Reaction{},
	}
	if err := c.store.appendChat(m); err != nil {
		return nil, apierr.Storagef(err, "append chat")
	}
	c.hub.broadcastJSON(WSChat, m)
	if c.slackMirror != nil {
		c.slackMirror(author, message)
	}
	return m, nil
}

// postSystemLine is used by task/handoff action verbs to narrate state
// changes into the shared chat log, mirroring the teacher's pattern of
// logging activity alongside state mutations.
func (c *Coordinator) postSystemLine(message string) {
	_, _ = c.appendChatLocked("system", AuthorSystem, message)
}

// TailChat returns the N most recent messages in chronological order.
func (c *Coordinator) TailChat(limit int) ([]*ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, err := c.store.tailChat(limit)
	if err != nil {
		return nil, apierr.Storagef(err, "tail chat")
	}
	return msgs, nil
}

// AddReaction appends an emoji reaction to a chat message, idempotent per
// (msgID, by, emoji). This is a SPEC_FULL.md supplement: spec.md's
// ChatMessage carries reactions[] but never describes how they are set.
func (c *Coordinator) AddReaction(msgID, by, emoji string) (*ChatMessage, error) {
	if by == "" || emoji == "" {
		return nil, apierr.Validationf("by and emoji are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.store.getChat(msgID)
	if err != nil {
		return nil, apierr.Storagef(err, "load chat message")
	}
	if m == nil {
		return nil, apierr.NotFoundf("chat message %s not found", msgID)
	}
	for _, r := range m.Reactions {
		if r.By == by && r.Emoji == emoji {
			return m, nil // already present, no-op
		}
	}
	m.Reactions = append(m.Reactions, Reaction{By: by, Emoji: emoji})
	if err := c.store.setChatReactions(m.ID, m.Reactions); err != nil {
		return nil, apierr.Storagef(err, "save reaction")
	}
	c.hub.broadcastJSON(WSChatReaction, m)
	return m, nil
}

// AccomplishmentKeywords is the heuristic keyword set from §4.1 that
// looksLikeAccomplishment matches to pick "shipped" style lines from chat
// for session-resume, per Open
// Question (c): the set is kept as a package-level var so a deployment can
// override it.
var AccomplishmentKeywords = []string{"✅", "shipped", "completed", "built", "added", "fixed", "implemented", "deployed"}

func looksLikeAccomplishment(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range AccomplishmentKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
