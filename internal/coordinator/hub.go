package coordinator

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketBufferSize is the buffer size for a subscriber's outbound queue,
// generalized from the teacher's fixed hub broadcast channel.
const WebSocketBufferSize = 256

// WSMessage is the envelope for every push-channel frame.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Frame types on the wire, per spec §6.
const (
	WSPing            = "ping"
	WSPong            = "pong"
	WSChat            = "chat"
	WSAgentUpdate     = "agent-update"
	WSTaskUpdate      = "task-update"
	WSStateSync       = "state-sync"
	WSWelcome         = "welcome"
	WSChatReaction    = "chat-reaction"
)

// subscriber is one open push-channel connection, tagged with the agentId
// it was opened for.
type subscriber struct {
	agentID string
	send    chan []byte
	conn    *websocket.Conn
}

// hub owns the subscriber set and fans events out to all of them. It never
// touches Coordinator state directly — Coordinator calls hub.broadcastJSON
// after a mutation commits, per ordering guarantee O2.
type hub struct {
	mu           sync.RWMutex
	subscribers  map[string]*subscriber // keyed by agentId; a new subscribe for the same id replaces the old one
	mirror       func(eventType string, data interface{})
	onDisconnect func(agentID string)
	onInbound    func(agentID string, msg WSMessage)
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]*subscriber)}
}

// register adds (or replaces) the subscriber for agentID. Per §5's
// shared-resource policy, the Coordinator never holds two subscriptions
// for the same agentId; the previous connection is orphaned and will be
// dropped on its next failed send.
func (h *hub) register(agentID string, conn *websocket.Conn) *subscriber {
	sub := &subscriber{agentID: agentID, send: make(chan []byte, WebSocketBufferSize), conn: conn}
	h.mu.Lock()
	h.subscribers[agentID] = sub
	h.mu.Unlock()
	return sub
}

func (h *hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if cur, ok := h.subscribers[sub.agentID]; ok && cur == sub {
		delete(h.subscribers, sub.agentID)
		close(sub.send)
	}
	h.mu.Unlock()
}

// broadcastJSON is best-effort: a full outbound queue drops that
// subscriber rather than blocking the broadcaster.
func (h *hub) broadcastJSON(msgType string, data interface{}) {
	msg := WSMessage{Type: msgType, Data: data}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[COORDINATOR] failed to marshal broadcast %s: %v", msgType, err)
		return
	}
	h.mu.Lock()
	for id, sub := range h.subscribers {
		select {
		case sub.send <- b:
		default:
			close(sub.send)
			delete(h.subscribers, id)
		}
	}
	h.mu.Unlock()
	if h.mirror != nil {
		h.mirror(msgType, data)
	}
}

// sendTo delivers a frame to exactly one subscriber (used for welcome and
// state-sync), dropping silently if that subscriber is gone.
func (h *hub) sendTo(agentID string, msgType string, data interface{}) {
	h.mu.RLock()
	sub, ok := h.subscribers[agentID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	b, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		return
	}
	select {
	case sub.send <- b:
	default:
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (s *subscriber) writePump() {
	defer s.conn.Close()
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump is the push channel's inbound half, per spec §6: ping/chat/
// agent-update frames are parsed and handed to onInbound for dispatch. It
// also detects disconnects so the hub can unregister and the Coordinator
// can mark the agent offline.
func (s *subscriber) readPump(h *hub) {
	defer func() {
		h.unregister(s)
		s.conn.Close()
		if h.onDisconnect != nil {
			h.onDisconnect(s.agentID)
		}
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if h.onInbound == nil {
			continue
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.onInbound(s.agentID, msg)
	}
}
