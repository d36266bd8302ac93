// Package natsmirror bridges the Coordinator's push-channel events onto NATS
// subjects, so an out-of-band subscriber (a dashboard, a notifier, another
// fleet) can observe the same events the in-process WebSocket hub delivers
// without holding a live HTTP connection to coordhubd.
//
// It is built on the same embedded-server/client pair used elsewhere in this
// codebase for agent-to-agent messaging, pointed at one fixed subject.
package natsmirror

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coordhub/coordhub/internal/nats"
)

// Config controls the embedded NATS server this mirror starts.
type Config struct {
	Port      int
	JetStream bool
	DataDir   string
	Subject   string
}

// Event is the envelope published to Subject for every mirrored push.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

// Mirror owns an embedded NATS server and the client publishing into it.
type Mirror struct {
	srv     *nats.EmbeddedServer
	client  *nats.Client
	subject string
}

// Start boots the embedded NATS server and connects a publishing client.
// Callers should defer Mirror.Close.
func Start(cfg Config) (*Mirror, error) {
	srv, err := nats.NewEmbeddedServer(nats.EmbeddedServerConfig{
		Port:      cfg.Port,
		JetStream: cfg.JetStream,
		DataDir:   cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("start embedded nats server: %w", err)
	}

	client, err := nats.NewClient(srv.URL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect mirror client: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "coordhub.events"
	}

	return &Mirror{srv: srv, client: client, subject: subject}, nil
}

// Publish implements the callback shape expected by
// coordinator.Coordinator.SetNATSMirror and agentstate.Manager.SetNATSMirror:
// it is safe to pass directly as the mirror function.
func (m *Mirror) Publish(eventType string, data interface{}) {
	if m == nil || m.client == nil {
		return
	}
	_ = m.client.PublishJSON(m.subject, Event{Type: eventType, Data: data, At: time.Now()})
}

// Subscribe registers handler for every mirrored event on Subject. Returned
// error is from the underlying NATS subscribe call.
func (m *Mirror) Subscribe(handler func(Event)) error {
	_, err := m.client.Subscribe(m.subject, func(msg *nats.Message) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return
		}
		handler(evt)
	})
	return err
}

// URL returns the embedded server's connection URL, useful for wiring
// additional subscribers.
func (m *Mirror) URL() string {
	return m.srv.URL()
}

// Close disconnects the client and shuts down the embedded server.
func (m *Mirror) Close() {
	if m.client != nil {
		m.client.Close()
	}
	if m.srv != nil {
		m.srv.Shutdown()
	}
}
