package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"tradecore/pkg/agents"
	"tradecore/pkg/api"
	"tradecore/pkg/config"
	"tradecore/pkg/coordinator"
	"tradecore/pkg/embed"
	"tradecore/pkg/eventlog"
	"tradecore/pkg/logx"
	"tradecore/pkg/memory"
	"tradecore/pkg/metrics"
	"tradecore/pkg/router"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file (defaults apply when omitted)")
		listenAddr  = flag.String("listen", "", "Operator API listen address (overrides config)")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("tradecore %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebug(true)
	}

	os.Exit(run(*configPath, *listenAddr))
}

// run contains the main application logic and returns an exit code. This
// allows defers to execute before os.Exit is called.
func run(configPath, listenAddr string) int {
	logger := logx.NewLogger("main")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			// Configuration errors are always fatal at boot.
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if listenAddr != "" {
		cfg.API.ListenAddr = listenAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	embedder, err := embed.NewService(&cfg.Embedder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "embedder: %v\n", err)
		return 1
	}

	store := memory.NewStore(ctx, &cfg.Memory, embedder.Dimensions())
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("memory store close: %v", closeErr)
		}
	}()
	embedder.AttachIndex(store)
	if degraded, reason := store.Degraded(); degraded {
		logger.Warn("memory store degraded at boot: %s", reason)
	}
	go store.RunRetentionSweeps(ctx)

	audit := eventlog.NewWriter(&cfg.EventLog)
	defer func() { _ = audit.Close() }()

	rec := metrics.NewRecorder(prometheus.DefaultRegisterer)

	out := router.NewOutputRouter(&cfg.Router, cfg.Agents, embedder, store, logx.NewLogger("router-out"))
	input, err := router.NewInputRouter(&cfg.Router, embedder, store, logx.NewLogger("router-in"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "input router: %v\n", err)
		return 1
	}
	defer input.Close()

	roster, err := agents.BuildRoster(cfg, agents.Deps{
		Memory:  input,
		Emitter: out,
		Gates:   &cfg.RiskGates,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "roster: %v\n", err)
		return 1
	}

	coord := coordinator.New(cfg, roster, out, store, audit, rec)
	out.Register(coord)
	for _, a := range roster {
		out.Register(a)
	}

	server := api.New(&cfg.API, coord, input, store)
	go func() {
		if serveErr := server.Serve(ctx, cfg.API.ListenAddr); serveErr != nil {
			logger.Error("operator api: %v", serveErr)
		}
	}()

	logger.Info("tradecore %s starting: %d agents, api on %s", version, len(roster), cfg.API.ListenAddr)
	if err := coord.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		return 1
	}
	logger.Info("tradecore stopped cleanly")
	return 0
}
