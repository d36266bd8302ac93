// Command captain-register is a tiny NATS-only status publisher: an agent
// process that doesn't want an HTTP round-trip (e.g. it's also subscribed
// to the mirror bus already) can announce its status directly onto the
// event-mirror subject instead of going through dbctl/coordctl.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// statusEvent matches the envelope natsmirror.Event publishes, so
// subscribers don't need to distinguish mirrored Coordinator events from a
// direct agent-published one.
type statusEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

func main() {
	natsURL := flag.String("url", "nats://127.0.0.1:4222", "NATS server URL")
	subject := flag.String("subject", "coordhub.events", "mirror subject to publish on")
	agentID := flag.String("agent", "", "agent id")
	status := flag.String("status", "idle", "agent status (idle, working, error)")
	currentTask := flag.String("task", "", "current task description")
	flag.Parse()

	if *agentID == "" {
		log.Fatal("-agent is required")
	}

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	evt := statusEvent{
		Type: "agent-status",
		Data: map[string]interface{}{
			"agentId":     *agentID,
			"status":      *status,
			"currentTask": *currentTask,
		},
		At: time.Now(),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		log.Fatalf("failed to marshal event: %v", err)
	}

	if err := nc.Publish(*subject, data); err != nil {
		log.Fatalf("failed to publish: %v", err)
	}
	nc.Flush()
	log.Printf("published agent-status for %s (%s) to %s", *agentID, *status, *subject)
}
