// Seeding the global source must not be a no-op: -seed=0 relies on
// seed.Init to pick a fresh random seed.
//go:debug randseednop=0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sean-/seed"

	"github.com/heitortanoue/swarmmon/internal/config"
	"github.com/heitortanoue/swarmmon/logging"
	"github.com/heitortanoue/swarmmon/pkg/aggregate"
	"github.com/heitortanoue/swarmmon/pkg/api"
	"github.com/heitortanoue/swarmmon/pkg/sim"
	"github.com/heitortanoue/swarmmon/pkg/swim"
)

func main() {
	// Command line flags
	var (
		configPath = flag.String("config", "", "YAML scenario file (defaults are used when empty)")
		seedFlag   = flag.Int64("seed", 0, "Random seed, 0 picks one")
		endTime    = flag.Float64("end", -1, "Simulated end time in seconds, 0 runs forever")
		workers    = flag.Int("workers", 0, "Parallel device evaluations")
		apiPort    = flag.Int("api-port", 0, "HTTP port for observers, -1 disables the API")
		swimPort   = flag.Int("swim-port", 0, "SWIM port, enables cluster summaries")
		join       = flag.String("join", "", "Comma separated SWIM nodes to join")
		realtime   = flag.Bool("realtime", false, "Pace rounds with the wall clock")
		showUsage  = flag.Bool("help", false, "Show usage help")
	)
	flag.Parse()

	if *showUsage {
		printUsage()
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] %v", err)
	}

	// Flags override the scenario file
	if *seedFlag != 0 {
		cfg.Seed = *seedFlag
	}
	if *endTime >= 0 {
		cfg.EndTime = *endTime
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *apiPort < 0 {
		cfg.API.Enabled = false
	} else if *apiPort > 0 {
		cfg.API.Enabled = true
		cfg.API.Port = *apiPort
	}
	if *swimPort > 0 {
		cfg.Swim.Enabled = true
		cfg.Swim.Port = *swimPort
	}
	if *join != "" {
		cfg.Swim.Enabled = true
		cfg.Swim.Join = append(cfg.Swim.Join, strings.Split(*join, ",")...)
	}
	if *realtime {
		cfg.Realtime = true
	}

	cfg.Seed = resolveSeed(cfg.Seed)

	if err := cfg.Validate(); err != nil {
		logging.NewSimLogger("config").LogConfigError(err)
		os.Exit(1)
	}

	simulator, err := sim.New(cfg)
	if err != nil {
		log.Fatalf("[MAIN] Error creating simulator: %v", err)
	}
	runID := simulator.RunID().String()
	logger := logging.NewSimLogger(runID[:8])

	aggregator, err := aggregate.NewAggregator("swarmmon", 0)
	if err != nil {
		log.Fatalf("[MAIN] Error creating aggregator: %v", err)
	}
	simulator.AddSink(aggregator)

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(runID)
		simulator.AddSink(hub)
	}

	var membership *swim.MembershipManager
	if cfg.Swim.Enabled {
		nodeName := cfg.Swim.NodeName
		if nodeName == "" {
			nodeName = runID
		}
		swimCfg := swim.MembershipConfig{
			NodeID:   nodeName,
			BindAddr: cfg.Swim.BindAddr,
			BindPort: cfg.Swim.Port,
			Seeds:    cfg.Swim.Join,
			Logger:   logger,
		}
		if hub != nil {
			swimCfg.OnSummary = hub.PublishSummary
		}
		membership, err = swim.NewMembershipManager(swimCfg)
		if err != nil {
			log.Fatalf("[MAIN] Error creating membership: %v", err)
		}
		simulator.AddSink(membership)
	}

	var server *api.Server
	if cfg.API.Enabled {
		if membership != nil {
			server = api.NewServer(cfg.API.BindAddr, cfg.API.Port, simulator, aggregator, hub, membership)
		} else {
			server = api.NewServer(cfg.API.BindAddr, cfg.API.Port, simulator, aggregator, hub, nil)
		}
		go func() {
			if err := server.Start(); err != nil {
				logger.LogError("api_start", err)
			}
		}()
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Startup info
	fmt.Printf("=== Run %s ===\n", runID)
	fmt.Printf("Area: %.0fx%.0f, obstacles: %d\n", cfg.Width, cfg.Height, len(cfg.Obstacles))
	fmt.Printf("Devices: %d in %d groups, range %.0f\n", cfg.Devices(), len(cfg.Groups), cfg.CommunicationRange)
	fmt.Printf("Rounds: period %.2fs, end %.0fs, retain %d, workers %d, seed %d\n",
		cfg.Period, cfg.EndTime, cfg.Retain, cfg.Workers, cfg.Seed)
	if server != nil {
		fmt.Printf("API: http://%s:%d\n", cfg.API.BindAddr, cfg.API.Port)
	}
	if membership != nil {
		fmt.Printf("SWIM: %s on %s\n", membership.GetNodeID(), membership.GetLocalAddr())
	}
	fmt.Printf("Starting...\n\n")

	started := time.Now()
	runErr := simulator.Run(ctx)
	logger.LogMetrics("run", time.Since(started), simulator.Round())

	fmt.Printf("Mean consistency: %.3f over %d rounds\n", aggregator.MeanConsistency(), simulator.Round())

	if server != nil {
		if err := server.Stop(); err != nil {
			logger.LogError("api_stop", err)
		}
	}
	if membership != nil {
		if err := membership.Leave(); err != nil {
			logger.LogError("swim_leave", err)
		}
		if err := membership.Shutdown(); err != nil {
			logger.LogError("swim_shutdown", err)
		}
	}

	if runErr != nil {
		var roundErr *sim.RoundError
		if errors.As(runErr, &roundErr) {
			logger.LogError(fmt.Sprintf("round_%d_device_%d", roundErr.Round, roundErr.Device), roundErr.Cause)
		} else {
			logger.LogError("run", runErr)
		}
		os.Exit(1)
	}
}

// resolveSeed keeps a configured seed; 0 draws one from the global source
// after seeding it from crypto/rand
func resolveSeed(configured int64) int64 {
	if configured != 0 {
		return configured
	}
	if _, err := seed.Init(); err != nil {
		log.Printf("[MAIN] Secure seeding failed, using time based seed: %v", err)
	}
	return rand.Int63()
}

// printUsage shows available options and endpoints
func printUsage() {
	fmt.Fprintf(os.Stderr, `
=== Swarm Consistency Monitor ===

USAGE:
  %s [options]

EXAMPLES:
  %s -end=300 -seed=42
  %s -config=scenario.yaml -realtime
  %s -swim-port=7946 -join=10.0.0.2:7946

OPTIONS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])

	flag.PrintDefaults()

	fmt.Fprintf(os.Stderr, `
ENDPOINTS (HTTP):
  GET /health      - Health check
  GET /state       - Snapshot of the last round
  GET /stats       - Simulation statistics
  GET /series      - Consistency series (?since=round)
  GET /members     - Latest summary of every SWIM peer
  POST /join       - Join the SWIM cluster {node_address: "host:port"}
  GET /ws          - Websocket feed of round snapshots and peer summaries
`)
}
