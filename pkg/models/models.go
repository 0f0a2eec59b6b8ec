// Package models holds the shared data types that flow between the core
// subsystems of the agent framework: identities, secrets, permissions,
// scheduled tasks, audit entries, pipeline results, and routed messages.
//
// Everything here is a plain value type. Ownership rules (who may mutate
// what) are documented at the call sites that construct these values, not
// enforced by the compiler beyond unexported fields where freezing matters.
package models

import "time"

// Identity is the immutable, frozen configuration handle for a named agent
// persona. It is constructed once by the identity loader and never mutated
// afterward; callers that need a different configuration load a new value.
type Identity struct {
	Name        string
	DisplayName string
	Version     string

	Operational OperationalSettings
	Schedule    ScheduleSettings
	QuietHours  QuietHoursSettings
	Security    SecuritySettings

	Connectors   []string
	Capabilities []string
	Permissions  map[string]PermissionRule

	// Persona is the free-form bag of voice/traits/interests/banned
	// vocabulary/signature phrases/example exchanges parsed from
	// persona.yaml.
	Persona map[string]any

	// Opinions, Opsec, and Knowledge are namespaced auxiliary bags loaded
	// from opinions.yaml, opsec.yaml, and knowledge_*.yaml respectively.
	Opinions  map[string]any
	Opsec     map[string]any
	Knowledge map[string]any
}

// OperationalSettings holds model-client configuration and defaults applied
// to every chat() call made on behalf of this identity.
type OperationalSettings struct {
	GatewayAddress     string
	TimeoutSeconds     float64
	DefaultTemperature float64
	DefaultMaxTokens   int
	DefaultTopP        float64
	UseGateway         bool
}

// ScheduleSettings controls how often the identity's scheduled work runs.
type ScheduleSettings struct {
	HeartbeatIntervalSeconds float64
	FeedPollMinutes          float64
}

// QuietHoursSettings describes the time window during which the model is
// not used.
type QuietHoursSettings struct {
	Enabled   bool
	Timezone  string
	StartHour int
	EndHour   int
}

// SecuritySettings controls which security stages run for this identity.
type SecuritySettings struct {
	Admins              []string
	PreflightEnabled    bool
	OutputSafetyEnabled bool
	RateLimitMaxTokens   float64
	RateLimitRefillRate  float64
}

// PermissionRule is one entry of a PermissionSet: the policy governing a
// single named action.
type PermissionRule struct {
	Action           string
	Allowed          bool
	MaxPerHour       int
	CooldownSeconds  float64
	RequiresApproval bool
}

// ScheduledTask is the read-only view of a task owned by the Scheduler.
type ScheduledTask struct {
	Name            string
	IntervalSeconds float64
	NextDue         time.Time
	RunCount        int
	ErrorCount      int
	Enabled         bool
	RunImmediately  bool
}

// AuditEntry is one append-only record written to the audit log.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	Identity   string
	Action     string
	Category   string
	Details    map[string]any
	Success    bool
	DurationMs float64
	Error      string
}

// PipelineStage names the six gates a model call passes through.
type PipelineStage string

const (
	StageInputSanitize PipelineStage = "input_sanitize"
	StagePreflight     PipelineStage = "preflight"
	StageRateLimit     PipelineStage = "rate_limit"
	StageLLMCall       PipelineStage = "llm_call"
	StageOutputSafety  PipelineStage = "output_safety"
	StageComplete      PipelineStage = "complete"
)

// ChatMessage is one turn submitted to the pipeline or model client.
type ChatMessage struct {
	Role    string
	Content string
}

// PipelineResult is the sole return type of the safe model-call pipeline.
// Content is present iff Blocked is false.
type PipelineResult struct {
	Content          *string
	Blocked          bool
	BlockReason      string
	BlockStage       PipelineStage
	Deflection       string
	RawResponse      any
	DurationMs       float64
	StagesPassed     []PipelineStage
	StageTimings     map[PipelineStage]float64
	ReasoningContent string
}

// Engagement is one record of the identity acting on an external item
// (replying to a post, reacting to a message). Owned by the engagement
// store; connectors see read-only copies.
type Engagement struct {
	ID        string
	Identity  string
	Platform  string
	ItemID    string
	Kind      string // "reply", "post", "reaction", ...
	UserID    string
	Timestamp time.Time
	Details   map[string]any
}

// RouteStatus is the terminal or transient state of a RouteMessage.
type RouteStatus string

const (
	RoutePending    RouteStatus = "pending"
	RouteDelivered  RouteStatus = "delivered"
	RouteRejected   RouteStatus = "rejected"
	RouteDeadLetter RouteStatus = "dead_letter"
	RouteExpired    RouteStatus = "expired"
)

// RouteMessage is one message handled by the inter-identity router.
type RouteMessage struct {
	MessageID string
	Source    string
	Target    string
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
	TTL       time.Duration
	Status    RouteStatus
	Error     string
}

// Expired reports whether the message has outlived its TTL as of now.
func (m RouteMessage) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.After(m.CreatedAt.Add(m.TTL))
}
