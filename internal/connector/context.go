// Package connector defines the Context capability bundle handed to every
// connector at setup time, and the static whitelist registry that is the
// only way to instantiate one. Dynamic code loading is never permitted:
// the registry is a compile-time table from short name to constructor.
package connector

import (
	"context"

	"github.com/overblick/agentcore/internal/identity"
	"github.com/overblick/agentcore/internal/pipeline"
	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
)

// Context is the sole framework interface exposed to connectors. It is a
// fixed record of handles chosen at load time — never a service locator
// that resolves names at call time.
type Context struct {
	IdentityName string
	DataDir      string
	LogDir       string

	Identity models.Identity

	// Pipeline is the preferred path to the model. RawClient is exposed
	// only for connectors with a documented reason to bypass the gates
	// (none ship in this core).
	Pipeline  ModelPipeline
	RawClient contracts.ModelClient

	EventBus          contracts.EventBus
	Scheduler         contracts.Scheduler
	AuditLog          contracts.AuditLog
	Engagement        contracts.EngagementStore
	QuietHours        contracts.QuietHoursChecker
	Preflight         contracts.PreflightChecker
	OutputSafety      contracts.OutputSafety
	Permissions       contracts.PermissionChecker
	Router            contracts.MessageRouterClient // nil if no supervisor configured

	capabilities map[string]contracts.Capability
	secretsGet   func(key string) (string, bool)

	loader *identity.Loader
}

// ModelPipeline is the narrow slice of pipeline.Pipeline a connector needs.
// Kept as an interface (rather than a direct *pipeline.Pipeline field) so a
// connector test can supply a stub without spinning up the whole pipeline.
type ModelPipeline interface {
	Chat(ctx context.Context, messages []models.ChatMessage, opts pipeline.ChatOptions) models.PipelineResult
}

// NewContext builds a Context. Called exactly once per connector, by the
// orchestrator, before that connector's Setup().
func NewContext(
	identityName, dataDir, logDir string,
	id models.Identity,
	pipeline ModelPipeline,
	rawClient contracts.ModelClient,
	bus contracts.EventBus,
	sched contracts.Scheduler,
	auditLog contracts.AuditLog,
	engagementDB contracts.EngagementStore,
	quietHours contracts.QuietHoursChecker,
	preflight contracts.PreflightChecker,
	outputSafety contracts.OutputSafety,
	perms contracts.PermissionChecker,
	router contracts.MessageRouterClient,
	capabilities map[string]contracts.Capability,
	secretsGet func(key string) (string, bool),
	loader *identity.Loader,
) *Context {
	return &Context{
		IdentityName: identityName,
		DataDir:      dataDir,
		LogDir:       logDir,
		Identity:     id,
		Pipeline:     pipeline,
		RawClient:    rawClient,
		EventBus:     bus,
		Scheduler:    sched,
		AuditLog:     auditLog,
		Engagement:   engagementDB,
		QuietHours:   quietHours,
		Preflight:    preflight,
		OutputSafety: outputSafety,
		Permissions:  perms,
		Router:       router,
		capabilities: capabilities,
		secretsGet:   secretsGet,
		loader:       loader,
	}
}

// GetSecret reads a decrypted secret for this connector's identity.
func (c *Context) GetSecret(key string) (string, bool) {
	if c.secretsGet == nil {
		return "", false
	}
	return c.secretsGet(key)
}

// GetCapability returns a read-only handle to an instantiated capability
// by name, or nil if none was configured.
func (c *Context) GetCapability(name string) contracts.Capability {
	return c.capabilities[name]
}

// LoadIdentity lets a connector read another identity's frozen
// configuration without importing the identity package directly.
func (c *Context) LoadIdentity(name string) (models.Identity, error) {
	return c.loader.Load(name)
}

// BuildSystemPrompt is a convenience wrapper so connectors never need to
// import internal/identity themselves.
func (c *Context) BuildSystemPrompt(id models.Identity, platform, modelTag string) string {
	return identity.BuildSystemPrompt(id, platform, modelTag)
}
