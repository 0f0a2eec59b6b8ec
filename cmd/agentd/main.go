// agentd runs a single identity process: it loads the identity named on
// the command line, wires the framework services, exposes the read-only
// status façade, and runs the orchestrator until SIGINT/SIGTERM.
//
// Exit codes: 0 on clean shutdown, 1 on fatal startup errors (identity
// not found, unrecoverable master key, zero connectors loaded).
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/overblick/agentcore/internal/capability"
	"github.com/overblick/agentcore/internal/config"
	"github.com/overblick/agentcore/internal/connector"
	"github.com/overblick/agentcore/internal/dashboardapi"
	"github.com/overblick/agentcore/internal/orchestrator"
	"github.com/overblick/agentcore/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	identityName := flag.String("identity", "", "identity to run (required)")
	statusAddr := flag.String("status-addr", "", "listen address for the status façade (empty disables)")
	flag.Parse()

	if *identityName == "" {
		log.Error().Msg("missing required -identity flag")
		return 1
	}

	cfg := config.Load()

	shutdownTracing, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Error().Err(err).Msg("initializing telemetry")
		return 1
	}

	// Connector and capability constructors are registered here by the
	// build that links them in; the core itself ships none.
	deps := orchestrator.Deps{
		Connectors:   connector.NewRegistry(),
		Capabilities: capability.NewRegistry(),
	}
	registerConnectors(deps.Connectors)
	registerCapabilities(deps.Capabilities)

	o, err := orchestrator.New(cfg, *identityName, deps)
	if err != nil {
		log.Error().Err(err).Str("identity", *identityName).Msg("orchestrator construction failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := o.Setup(ctx); err != nil {
		if errors.Is(err, orchestrator.ErrNoConnectorsLoaded) {
			log.Error().Str("identity", *identityName).Msg("no connectors loaded; refusing to run an idle process")
		} else {
			log.Error().Err(err).Msg("orchestrator setup failed")
		}
		return 1
	}

	if *statusAddr != "" {
		providers := map[string]dashboardapi.StatusProvider{*identityName: o}
		handler := dashboardapi.NewRouter(providers)
		go func() {
			srv := &http.Server{Addr: *statusAddr, Handler: handler, ReadTimeout: 10 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("status façade stopped")
			}
		}()
		log.Info().Str("addr", *statusAddr).Msg("status façade listening")
	}

	log.Info().Str("identity", *identityName).Msg("agentd running")
	if err := o.Run(ctx); err != nil {
		log.Error().Err(err).Msg("orchestrator run failed")
		return 1
	}

	if err := shutdownTracing(context.Background()); err != nil {
		log.Warn().Err(err).Msg("flushing tracing on shutdown")
	}
	log.Info().Str("identity", *identityName).Msg("agentd stopped cleanly")
	return 0
}

// registerConnectors is the compile-time whitelist hook: concrete
// connector packages add themselves here when linked into a build.
func registerConnectors(r *connector.Registry) {}

// registerCapabilities mirrors registerConnectors for shared services.
func registerCapabilities(r *capability.Registry) {}
