// Package orchestrator owns one identity process's lifecycle: it loads the
// identity's configuration, wires every component (secrets, audit,
// scheduler, event bus, preflight, output safety, rate limiter,
// permissions, quiet hours, model client, pipeline, router client), loads
// the identity's connectors and capabilities through their static
// registries, and drives the INIT → SETUP → RUNNING → STOPPING → STOPPED
// state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/overblick/agentcore/internal/audit"
	"github.com/overblick/agentcore/internal/capability"
	"github.com/overblick/agentcore/internal/config"
	"github.com/overblick/agentcore/internal/connector"
	"github.com/overblick/agentcore/internal/engagement"
	"github.com/overblick/agentcore/internal/eventbus"
	"github.com/overblick/agentcore/internal/identity"
	"github.com/overblick/agentcore/internal/ipc"
	"github.com/overblick/agentcore/internal/modelclient"
	"github.com/overblick/agentcore/internal/outputsafety"
	"github.com/overblick/agentcore/internal/permissions"
	"github.com/overblick/agentcore/internal/pipeline"
	"github.com/overblick/agentcore/internal/preflight"
	"github.com/overblick/agentcore/internal/quiethours"
	"github.com/overblick/agentcore/internal/ratelimiter"
	"github.com/overblick/agentcore/internal/scheduler"
	"github.com/overblick/agentcore/internal/secrets"
	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
	"github.com/rs/zerolog/log"
)

// State is one stage of the orchestrator's lifecycle.
type State string

const (
	StateInit     State = "init"
	StateSetup    State = "setup"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// ErrNoConnectorsLoaded is returned from Setup when an identity declares no
// connectors, or every declared connector fails to load: a process with no
// connectors does nothing and is treated as a configuration error.
var ErrNoConnectorsLoaded = errors.New("no connectors loaded")

// Deps bundles the registries the host process supplies — this core ships
// no concrete connector or capability implementations, so the caller
// (cmd/agentd) must register its own before constructing an Orchestrator.
type Deps struct {
	Connectors   *connector.Registry
	Capabilities *capability.Registry
	AIAnalyzer   preflight.AIAnalyzer // optional; nil disables model-assisted escalation
}

// Orchestrator drives one identity's process lifecycle.
type Orchestrator struct {
	cfg    *config.Config
	id     models.Identity
	loader *identity.Loader

	mu    sync.Mutex
	state State

	secretsMgr *secrets.Manager
	auditLog   *audit.Log
	engageDB   *engagement.DB
	bus        *eventbus.Bus
	sched      *scheduler.Scheduler
	rateLim    *ratelimiter.Limiter
	perms      *permissions.Checker
	quiet      *quiethours.Checker
	pre        contracts.PreflightChecker
	outSafety  contracts.OutputSafety
	client     contracts.ModelClient
	pipe       *pipeline.Pipeline
	router     contracts.MessageRouterClient

	connectors   *connector.Registry
	capabilities *capability.Registry
	loadOrder    []string
	loadedConns  []contracts.Connector
}

// New loads identityName's configuration and constructs (but does not yet
// start) an Orchestrator. Returns identity.ErrNotFound or
// secrets.ErrMasterKeyUnrecoverable, wrapped, on fatal config problems.
func New(cfg *config.Config, identityName string, deps Deps) (*Orchestrator, error) {
	loader := identity.NewLoader(filepath.Join(cfg.ConfigDir, "identities"))
	id, err := loader.Load(identityName)
	if err != nil {
		return nil, fmt.Errorf("loading identity %q: %w", identityName, err)
	}

	secretsDir := filepath.Join(cfg.ConfigDir, "secrets")
	secretsMgr, err := secrets.New(secretsDir)
	if err != nil {
		return nil, fmt.Errorf("initializing secrets manager: %w", err)
	}

	dataDir := filepath.Join(cfg.DataDir, id.Name)
	auditLog, err := audit.Open(filepath.Join(dataDir, "audit.db"), id.Name)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	engageDB, err := engagement.Open(filepath.Join(dataDir, "engagement.db"), id.Name)
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("opening engagement db: %w", err)
	}

	o := &Orchestrator{
		cfg:          cfg,
		id:           id,
		loader:       loader,
		state:        StateInit,
		secretsMgr:   secretsMgr,
		auditLog:     auditLog,
		engageDB:     engageDB,
		bus:          eventbus.New(),
		sched:        scheduler.New(),
		rateLim:      ratelimiter.New(id.Security.RateLimitMaxTokens, id.Security.RateLimitRefillRate),
		perms:        permissions.New(id.Permissions),
		quiet:        quiethours.New(id.QuietHours),
		connectors:   deps.Connectors,
		capabilities: deps.Capabilities,
	}

	if id.Security.PreflightEnabled {
		o.pre = preflight.New(id.Security.Admins, deflectionsFromPersona(id.Persona), deps.AIAnalyzer)
	}
	if id.Security.OutputSafetyEnabled {
		o.outSafety = outputSafetyFor(id)
	} else {
		o.outSafety = contracts.CommunityOutputSafety{}
	}

	o.client = modelClientFor(id)

	strict := id.Security.PreflightEnabled && id.Security.OutputSafetyEnabled
	pipe, err := pipeline.New(id.Name, o.client, o.auditLog, o.pre, o.outSafety, o.rateLim, strict)
	if err != nil {
		return nil, fmt.Errorf("constructing pipeline: %w", err)
	}
	o.pipe = pipe

	if socket := cfg.SupervisorSocketPath; socket != "" {
		secret, ok := secretsMgr.Get("supervisor", "ipc_shared_secret")
		if ok {
			o.router = ipc.NewClient(socket, id.Name, []byte(secret))
		}
	}

	return o, nil
}

// Setup instantiates every connector the identity declares (through the
// static registry supplied in Deps) and every capability it names, wiring
// each connector's Context. Fails with ErrNoConnectorsLoaded if nothing
// came up.
func (o *Orchestrator) Setup(ctx context.Context) error {
	o.mu.Lock()
	o.state = StateSetup
	o.mu.Unlock()

	caps, err := o.capabilities.Build(o.id)
	if err != nil {
		return fmt.Errorf("building capabilities: %w", err)
	}

	dataDir := filepath.Join(o.cfg.DataDir, o.id.Name)
	logDir := filepath.Join(o.cfg.LogDir, o.id.Name)

	for _, name := range o.id.Connectors {
		connCtx := connector.NewContext(
			o.id.Name, dataDir, logDir,
			o.id,
			o.pipe,
			o.client,
			o.bus,
			o.sched,
			o.auditLog,
			o.engageDB,
			o.quiet,
			o.pre,
			o.outSafety,
			o.perms,
			o.router,
			caps,
			func(key string) (string, bool) { return o.secretsMgr.Get(o.id.Name, key) },
			o.loader,
		)

		conn, err := o.connectors.Load(name, connCtx)
		if err != nil {
			log.Error().Err(err).Str("connector", name).Str("identity", o.id.Name).Msg("failed to load connector")
			continue
		}
		if err := conn.Setup(ctx); err != nil {
			log.Error().Err(err).Str("connector", name).Str("identity", o.id.Name).Msg("connector setup failed")
			continue
		}
		o.loadOrder = append(o.loadOrder, name)
		o.loadedConns = append(o.loadedConns, conn)

		connName, interval := name, heartbeatInterval(o.id)
		if err := o.sched.Add(connName+"_tick", tickTask(conn), interval, true); err != nil {
			log.Warn().Err(err).Str("connector", name).Msg("could not schedule connector tick")
		}
	}

	if len(o.loadOrder) == 0 {
		return ErrNoConnectorsLoaded
	}

	log.Info().Str("identity", o.id.Name).Strs("connectors", o.loadOrder).Msg("orchestrator setup complete")
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then tears
// everything down in reverse load order. This is the single long-lived call a
// process entrypoint makes after Setup succeeds.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.state = StateRunning
	o.mu.Unlock()

	if err := o.sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	<-ctx.Done()

	o.mu.Lock()
	o.state = StateStopping
	o.mu.Unlock()

	o.sched.Stop()
	o.teardown()

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()

	return nil
}

// State reports the orchestrator's current lifecycle stage.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status is the read-only snapshot the dashboard façade exposes per
// identity. It never includes secrets, preflight heuristics, block
// reasons, or anything else that could reveal security internals.
type Status struct {
	Identity    string                          `json:"identity"`
	State       State                           `json:"state"`
	Connectors  []string                        `json:"connectors_loaded"`
	Scheduler   map[string]models.ScheduledTask `json:"scheduler"`
	QuietHours  map[string]any                  `json:"quiet_hours"`
	Permissions map[string]any                  `json:"permissions"`
}

// Status returns a point-in-time snapshot suitable for JSON serving.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	return Status{
		Identity:    o.id.Name,
		State:       state,
		Connectors:  append([]string(nil), o.loadOrder...),
		Scheduler:   o.sched.Stats(),
		QuietHours:  o.quiet.Status(time.Now()),
		Permissions: o.perms.Stats(),
	}
}

func (o *Orchestrator) teardown() {
	teardownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(o.loadedConns) - 1; i >= 0; i-- {
		if err := o.loadedConns[i].Teardown(teardownCtx); err != nil {
			log.Warn().Err(err).Str("connector", o.loadOrder[i]).Msg("connector teardown failed")
		}
	}

	if err := o.engageDB.Close(); err != nil {
		log.Warn().Err(err).Msg("closing engagement db")
	}
	if err := o.auditLog.Close(); err != nil {
		log.Warn().Err(err).Msg("closing audit log")
	}
}

func tickTask(conn contracts.Connector) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return conn.Tick(ctx)
	}
}

func heartbeatInterval(id models.Identity) time.Duration {
	seconds := id.Schedule.HeartbeatIntervalSeconds
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds * float64(time.Second))
}

func modelClientFor(id models.Identity) contracts.ModelClient {
	timeout := time.Duration(id.Operational.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if id.Operational.UseGateway {
		return modelclient.NewGatewayClient(id.Operational.GatewayAddress, timeout)
	}
	return modelclient.NewOllamaClient(id.Operational.GatewayAddress, "", timeout)
}

func outputSafetyFor(id models.Identity) contracts.OutputSafety {
	slang, _ := id.Persona["banned_slang"].(map[string]any)
	bannedSlang := make(map[string]string, len(slang))
	for k, v := range slang {
		if s, ok := v.(string); ok {
			bannedSlang[k] = s
		}
	}

	var deflections []string
	if raw, ok := id.Persona["deflections"].(map[string]any); ok {
		if generic, ok := raw["default"].([]any); ok {
			for _, v := range generic {
				if s, ok := v.(string); ok {
					deflections = append(deflections, s)
				}
			}
		}
	}

	return outputsafety.New(id.Name, bannedSlang, deflections)
}

func deflectionsFromPersona(persona map[string]any) map[string][]string {
	out := map[string][]string{}
	raw, ok := persona["deflections"].(map[string]any)
	if !ok {
		return out
	}
	for threatType, v := range raw {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		strs := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				strs = append(strs, s)
			}
		}
		out[threatType] = strs
	}
	return out
}
