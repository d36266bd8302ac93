// Command coordhubd boots the three coordination singletons (Coordinator,
// AgentState, Lock), wires the AgentState manager in as the Coordinator's
// onboarding dependency, starts the NATS event mirror, and serves the
// combined HTTP API.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/coordhub/coordhub/internal/agentstate"
	"github.com/coordhub/coordhub/internal/config"
	"github.com/coordhub/coordhub/internal/coordinator"
	"github.com/coordhub/coordhub/internal/lock"
	"github.com/coordhub/coordhub/internal/natsmirror"
	"github.com/coordhub/coordhub/internal/slackmirror"
)

func main() {
	configPath := flag.String("config", "", "path to team/service YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for _, p := range []string{cfg.CoordinatorDBPath, cfg.AgentStateDBPath, cfg.LockDBPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "failed to create data dir %s: %v\n", dir, err)
				os.Exit(1)
			}
		}
	}

	agentStateMgr, err := agentstate.NewManager(cfg.AgentStateDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open agentstate store: %v\n", err)
		os.Exit(1)
	}

	lockMgr, err := lock.NewManager(cfg.LockDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open lock store: %v\n", err)
		os.Exit(1)
	}

	coord, err := coordinator.New(cfg.CoordinatorDBPath, agentStateMgr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open coordinator store: %v\n", err)
		os.Exit(1)
	}

	var mirror *natsmirror.Mirror
	if cfg.NATSEnabled {
		if dir := cfg.NATSDataDir; dir != "" {
			os.MkdirAll(dir, 0o755)
		}
		mirror, err = natsmirror.Start(natsmirror.Config{
			Port:      cfg.NATSPort,
			JetStream: cfg.NATSJetStream,
			DataDir:   cfg.NATSDataDir,
			Subject:   cfg.NATSMirrorSubject,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to start NATS mirror: %v\n", err)
		} else {
			coord.SetNATSMirror(mirror.Publish)
			agentStateMgr.SetNATSMirror(mirror.Publish)
			log.Printf("nats mirror listening at %s, subject %q", mirror.URL(), cfg.NATSMirrorSubject)
			defer mirror.Close()
		}
	}

	if cfg.SlackEnabled {
		sm, err := slackmirror.New(slackmirror.Config{Token: cfg.SlackToken, Channel: cfg.SlackChannel})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: slack mirror disabled: %v\n", err)
		} else {
			coord.SetSlackMirror(sm.PostChat)
			log.Printf("slack mirror posting to channel %q", cfg.SlackChannel)
		}
	}

	root := mux.NewRouter()
	root.PathPrefix("/coordinator").Handler(coord.Router())
	root.PathPrefix("/agent").Handler(agentstate.Router(agentStateMgr))
	root.PathPrefix("/lock").Handler(lock.Router(lockMgr))
	root.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("coordhubd listening on %s", cfg.HTTPAddr)
		serverErr <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	case <-shutdown:
		log.Println("shutting down...")
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}
