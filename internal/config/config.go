// Package config loads coordhubd's service configuration: a YAML file
// describing the team roster and storage/transport topology, overlaid with
// environment variables for anything an operator needs to change per
// deployment without touching the checked-in file.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// AgentProfile describes one roster entry: an agent identity the Coordinator
// will recognize, plus the specialization domain it onboards into.
type AgentProfile struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Domain string `yaml:"domain"`
}

// TeamConfig is the team.yaml roster: every agent the fleet expects to see,
// plus a DefaultLockMs value. The lock manager does not read DefaultLockMs;
// a lock request that omits its TTL gets lock.DefaultTTL.
type TeamConfig struct {
	Agents        []AgentProfile `yaml:"agents"`
	DefaultLockMs int64          `yaml:"defaultLockMs"`
}

// ServiceConfig is the process-level configuration: where the three
// singletons persist, where the HTTP API binds, and how the NATS mirror is
// reached. YAML fields set the baseline; envconfig fields (the `envconfig`
// struct tag) let an operator override any of them per deployment without
// editing the file.
type ServiceConfig struct {
	HTTPAddr string `yaml:"httpAddr" envconfig:"COORDHUB_HTTP_ADDR"`

	CoordinatorDBPath string `yaml:"coordinatorDbPath" envconfig:"COORDHUB_COORDINATOR_DB"`
	AgentStateDBPath  string `yaml:"agentStateDbPath" envconfig:"COORDHUB_AGENTSTATE_DB"`
	LockDBPath        string `yaml:"lockDbPath" envconfig:"COORDHUB_LOCK_DB"`

	NATSEnabled       bool   `yaml:"natsEnabled" envconfig:"COORDHUB_NATS_ENABLED"`
	NATSPort          int    `yaml:"natsPort" envconfig:"COORDHUB_NATS_PORT"`
	NATSJetStream     bool   `yaml:"natsJetstream" envconfig:"COORDHUB_NATS_JETSTREAM"`
	NATSDataDir       string `yaml:"natsDataDir" envconfig:"COORDHUB_NATS_DATA_DIR"`
	NATSMirrorSubject string `yaml:"natsMirrorSubject" envconfig:"COORDHUB_NATS_SUBJECT"`

	SlackEnabled bool   `yaml:"slackEnabled" envconfig:"COORDHUB_SLACK_ENABLED"`
	SlackToken   string `yaml:"slackToken" envconfig:"COORDHUB_SLACK_TOKEN"`
	SlackChannel string `yaml:"slackChannel" envconfig:"COORDHUB_SLACK_CHANNEL"`

	Team TeamConfig `yaml:"team"`
}

// Default returns the baseline configuration used when no file is supplied.
func Default() *ServiceConfig {
	return &ServiceConfig{
		HTTPAddr:          ":8080",
		CoordinatorDBPath: "data/coordinator.db",
		AgentStateDBPath:  "data/agentstate.db",
		LockDBPath:        "data/lock.db",
		NATSEnabled:       true,
		NATSPort:          4222,
		NATSJetStream:     false,
		NATSDataDir:       "data/nats",
		NATSMirrorSubject: "coordhub.events",
		SlackEnabled:      false,
		Team: TeamConfig{
			DefaultLockMs: 0,
		},
	}
}

// Load reads path (if non-empty and present) as YAML on top of Default,
// then applies any COORDHUB_* environment overrides via envconfig.
func Load(path string) (*ServiceConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, nil
}

// AgentByID finds the roster entry for id, if any.
func (t TeamConfig) AgentByID(id string) (AgentProfile, bool) {
	for _, a := range t.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentProfile{}, false
}
