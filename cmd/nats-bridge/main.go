// Command nats-bridge forwards mirrored coordhub events between two
// independently-deployed coordhubd instances (e.g. two separate fleets that
// need to see each other's task/chat/escalation events), relaying both
// directions with loop-prevention dedup on the subjects that could
// otherwise bounce back and forth forever.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

// Event subjects are bidirectional: both coordhubd instances publish their
// own mirrored events here, so the bridge must dedup to avoid a message
// being forwarded back to its origin in an endless loop.
var bidirectionalSubjects = []string{
	"coordhub.events",
}

// RecentMessages tracks recently seen (subject, payload) pairs so a
// just-forwarded message isn't immediately re-forwarded back.
type RecentMessages struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewRecentMessages(ttl time.Duration) *RecentMessages {
	rm := &RecentMessages{seen: make(map[string]time.Time), ttl: ttl}
	go func() {
		for {
			time.Sleep(ttl)
			rm.cleanup()
		}
	}()
	return rm
}

func (rm *RecentMessages) hash(subject string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(subject))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (rm *RecentMessages) IsSeen(subject string, data []byte) bool {
	hash := rm.hash(subject, data)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, exists := rm.seen[hash]
	return exists
}

func (rm *RecentMessages) Mark(subject string, data []byte) {
	hash := rm.hash(subject, data)
	rm.mu.Lock()
	rm.seen[hash] = time.Now()
	rm.mu.Unlock()
}

func (rm *RecentMessages) cleanup() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	now := time.Now()
	for hash, ts := range rm.seen {
		if now.Sub(ts) > rm.ttl {
			delete(rm.seen, hash)
		}
	}
}

func main() {
	localURL := flag.String("local", "nats://localhost:4222", "local coordhubd's NATS URL")
	remoteURL := flag.String("remote", "nats://localhost:4322", "remote coordhubd's NATS URL")
	flag.Parse()

	log.Println("nats-bridge: local <-> remote coordhub event mirror")
	log.Printf("local:  %s", *localURL)
	log.Printf("remote: %s", *remoteURL)

	localConn, err := nats.Connect(*localURL, nats.Name("bridge-to-local"))
	if err != nil {
		log.Fatalf("failed to connect to local NATS: %v", err)
	}
	defer localConn.Close()

	remoteConn, err := nats.Connect(*remoteURL, nats.Name("bridge-to-remote"))
	if err != nil {
		log.Fatalf("failed to connect to remote NATS: %v", err)
	}
	defer remoteConn.Close()

	recent := NewRecentMessages(5 * time.Second)
	subCount := 0

	for _, subject := range bidirectionalSubjects {
		subj := subject

		_, err := localConn.Subscribe(subj, func(msg *nats.Msg) {
			if recent.IsSeen(msg.Subject, msg.Data) {
				return
			}
			recent.Mark(msg.Subject, msg.Data)
			log.Printf("[local->remote] %s (%d bytes)", msg.Subject, len(msg.Data))
			remoteConn.Publish(msg.Subject, msg.Data)
		})
		if err != nil {
			log.Printf("warning: failed to subscribe to %s on local: %v", subj, err)
		} else {
			subCount++
		}

		_, err = remoteConn.Subscribe(subj, func(msg *nats.Msg) {
			if recent.IsSeen(msg.Subject, msg.Data) {
				return
			}
			recent.Mark(msg.Subject, msg.Data)
			log.Printf("[remote->local] %s (%d bytes)", msg.Subject, len(msg.Data))
			localConn.Publish(msg.Subject, msg.Data)
		})
		if err != nil {
			log.Printf("warning: failed to subscribe to %s on remote: %v", subj, err)
		} else {
			subCount++
		}
	}

	log.Printf("active subscriptions: %d", subCount)
	log.Println("bridge running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
}
