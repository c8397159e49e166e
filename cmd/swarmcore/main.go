// Command swarmcore boots one Coordinator for manual exercise: it wires the
// Prometheus metrics/health endpoints, registers a handful of placeholder
// agents, and blocks until signaled. It is a smoke-test harness, not a
// deployment artifact — there is no clustering, no wire protocol, and no
// subcommand surface.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/storage"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarm"
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "output logs in JSON format")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9090", "address for the metrics/health HTTP endpoints")
	dataDir := flag.String("data-dir", "./data", "embedded store data directory")
	seedAgents := flag.Int("seed-agents", 3, "number of placeholder agents to register at startup")
	flag.Parse()

	log.Init(log.Config{Level: log.Level(*logLevel), JSONOutput: *logJSON})

	cfg := config.Default()
	cfg.Storage.DataDir = *dataDir

	store, err := storage.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
		os.Exit(1)
	}

	coordinator, err := swarm.New(cfg, store, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start coordinator: %v\n", err)
		os.Exit(1)
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "ready")
	metrics.RegisterComponent("consensus", true, "ready")
	metrics.RegisterComponent("hooks", true, "ready")

	for i := 0; i < *seedAgents; i++ {
		id := fmt.Sprintf("agent-%d", i+1)
		if err := coordinator.RegisterAgent(id, map[string]string{"type": "seed"}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to register %s: %v\n", id, err)
		}
	}
	fmt.Printf("✓ Registered %d seed agents\n", *seedAgents)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	server := &http.Server{Addr: *metricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", *metricsAddr)
	fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live}\n", *metricsAddr)
	fmt.Println("Coordinator is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	coordinator.Shutdown()
	fmt.Println("✓ Shutdown complete")
}
