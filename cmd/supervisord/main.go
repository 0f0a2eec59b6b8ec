// supervisord hosts the inter-identity message router over a Unix domain
// socket. Identity processes (agentd) connect as clients; the supervisor
// never dials into them.
//
// Exit codes: 0 on clean shutdown, 1 on fatal startup errors (cannot
// bind the socket, missing shared secret).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/overblick/agentcore/internal/config"
	"github.com/overblick/agentcore/internal/ipc"
	"github.com/overblick/agentcore/internal/messagerouter"
	"github.com/overblick/agentcore/internal/secrets"
)

func main() {
	os.Exit(run())
}

func run() int {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	agents := flag.String("agents", "", "comma-separated identity names to register on the router (required)")
	flag.Parse()

	names := splitNonEmpty(*agents)
	if len(names) == 0 {
		log.Error().Msg("missing required -agents flag")
		return 1
	}

	cfg := config.Load()

	// The IPC shared secret lives in the secrets store under a reserved
	// pseudo-identity, so every agentd on this host can read the same one.
	mgr, err := secrets.New(filepath.Join(cfg.ConfigDir, "secrets"))
	if err != nil {
		log.Error().Err(err).Msg("initializing secrets manager")
		return 1
	}
	secret, ok := mgr.Get("supervisor", "ipc_shared_secret")
	if !ok {
		log.Error().Msg("no ipc_shared_secret configured for the supervisor")
		return 1
	}

	router := messagerouter.New()
	for _, name := range names {
		router.RegisterAgent(name, nil, 0)
	}

	server := ipc.NewServer(cfg.SupervisorSocketPath, []byte(secret), router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Strs("agents", names).Str("socket", cfg.SupervisorSocketPath).Msg("supervisord running")
	if err := server.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("IPC server failed")
		return 1
	}

	log.Info().Msg("supervisord stopped cleanly")
	return 0
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
