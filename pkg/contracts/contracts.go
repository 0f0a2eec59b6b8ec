// Package contracts defines the swappable service interfaces for the agent
// core: every boundary a connector or capability crosses to reach a
// framework service is named here as an interface (OutputSafety and
// QuietHoursChecker also have a Community* default here), so an alternate implementation (a different
// model backend, a different audit store) is a single wiring line change
// in the orchestrator's setup, never a call-site change.
package contracts

import (
	"context"
	"time"

	"github.com/overblick/agentcore/pkg/models"
)

// ── Model client ─────────────────────────────────────────────

// ModelClient is the interface every model backend implementation must
// satisfy. Callers MUST always go through the safe pipeline, never call
// a ModelClient directly.
type ModelClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	HealthCheck(ctx context.Context) bool
	Close() error
}

// ChatRequest is the input to a ModelClient.Chat call.
type ChatRequest struct {
	Messages    []models.ChatMessage
	Temperature float64
	MaxTokens   int
	TopP        float64
	Priority    string // "low" or "high"
}

// ChatResponse is the raw output of a ModelClient.Chat call, before any
// pipeline post-processing (reasoning extraction, output safety).
type ChatResponse struct {
	Content          string
	ReasoningContent string
}

// ── Audit log ─────────────────────────────────────────────────

// AuditLog records lifecycle, security, and I/O events for one identity.
// Community implementation: internal/audit.Log (bbolt-backed).
type AuditLog interface {
	Log(ctx context.Context, entry models.AuditEntry) (string, error)
	Close() error
}

// ── Secrets ───────────────────────────────────────────────────

// SecretsManager is the owner of an identity's encrypted secret material.
// Handles are distributed through Context but callers may not mutate the
// manager's internal cache directly.
type SecretsManager interface {
	Get(identity, key string) (string, bool)
	Set(identity, key, value string) error
	Has(identity, key string) bool
	ListKeys(identity string) []string
	LoadPlaintextSecrets(identity string, values map[string]string) error
}

// ── Event bus ─────────────────────────────────────────────────

// EventHandler receives one emitted event's payload.
type EventHandler func(payload map[string]any)

// EventBus is a named-topic, in-process publish/subscribe bus.
type EventBus interface {
	Subscribe(topic string, handler EventHandler) int
	Unsubscribe(topic string, handlerID int)
	Emit(topic string, payload map[string]any) int
}

// ── Scheduler ─────────────────────────────────────────────────

// TaskFunc is one unit of periodic work.
type TaskFunc func(ctx context.Context) error

// Scheduler runs named periodic tasks, each on its own goroutine, with
// per-task error isolation.
type Scheduler interface {
	Add(name string, fn TaskFunc, interval time.Duration, runImmediately bool) error
	Remove(name string) error
	Start(ctx context.Context) error
	Stop()
	Stats() map[string]models.ScheduledTask
}

// ── Quiet hours ───────────────────────────────────────────────

// QuietHoursChecker gates model use to a configured time window.
type QuietHoursChecker interface {
	IsQuietHours(now time.Time) bool
	CanUseLLM() bool
	TimeUntilActive(now time.Time) *time.Duration
}

// ── Preflight ─────────────────────────────────────────────────

// ThreatLevel classifies the outcome of a preflight check.
type ThreatLevel string

const (
	ThreatSafe       ThreatLevel = "safe"
	ThreatSuspicious ThreatLevel = "suspicious"
	ThreatBlocked    ThreatLevel = "blocked"
)

// ThreatType classifies what kind of attack a preflight check detected.
type ThreatType string

const (
	ThreatNone          ThreatType = "none"
	ThreatJailbreak     ThreatType = "jailbreak"
	ThreatPersonaHijack ThreatType = "persona_hijack"
	ThreatPromptInject  ThreatType = "prompt_injection"
	ThreatExtraction    ThreatType = "extraction"
)

// PreflightResult is the outcome of checking one inbound message.
type PreflightResult struct {
	Allowed        bool
	ThreatLevel    ThreatLevel
	ThreatType     ThreatType
	ThreatScore    float64
	Reason         string
	Deflection     string
	AnalysisTimeMs float64
}

// PreflightChecker inspects inbound user text for jailbreak, persona
// hijack, prompt injection, and extraction attempts before it reaches the
// model client.
type PreflightChecker interface {
	Check(ctx context.Context, userID, text string) (PreflightResult, error)
}

// ── Output safety ─────────────────────────────────────────────

// OutputSafetyResult is the outcome of scanning one model response.
type OutputSafetyResult struct {
	Text     string
	Blocked  bool
	Reason   string
	Replaced bool
}

// OutputSafety scans outbound model text for leakage, persona breaks, and
// policy-prohibited content.
type OutputSafety interface {
	Sanitize(text string) OutputSafetyResult
	SafeDeflection() string
}

// ── Rate limiter ──────────────────────────────────────────────

// RateLimiter is a single-process token bucket keyed by string.
type RateLimiter interface {
	Allow(key string) bool
	RetryAfter(key string) time.Duration
}

// ── Permissions ───────────────────────────────────────────────

// PermissionChecker enforces per-action allow/deny, rate, cooldown, and
// approval gates for one identity.
type PermissionChecker interface {
	IsAllowed(action string) bool
	RecordAction(action string)
	GrantApproval(action string)
	DenialReason(action string) string
	Stats() map[string]any
}

// ── Connector / Plugin ────────────────────────────────────────

// Connector is the isolation boundary a plugin satisfies to receive
// periodic scheduler ticks and a one-time setup/teardown lifecycle.
type Connector interface {
	Name() string
	Setup(ctx context.Context) error
	Tick(ctx context.Context) error
	Teardown(ctx context.Context) error
}

// ── Capability ────────────────────────────────────────────────

// Capability is a shared in-process service instance exposed to connectors
// through the Context's capability map. Unlike a Connector it has no
// scheduler-driven lifecycle of its own; it is simply constructed, handed
// out, and (optionally) closed on orchestrator shutdown.
type Capability interface {
	Name() string
	Close() error
}

// ── Engagement store ──────────────────────────────────────────

// EngagementStore tracks which external items an identity has already
// engaged with, so connectors can avoid double-replying across process
// restarts. Community implementation: internal/engagement.DB
// (bbolt-backed).
type EngagementStore interface {
	Record(ctx context.Context, e models.Engagement) (string, error)
	HasEngaged(ctx context.Context, platform, itemID string) (bool, error)
	Recent(ctx context.Context, limit int) ([]models.Engagement, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// ── Inter-identity messaging ──────────────────────────────────

// MessageRouterClient is the connector-facing wrapper around the
// supervisor's inter-identity router.
type MessageRouterClient interface {
	SendToAgent(ctx context.Context, target, msgType string, payload map[string]any, ttl time.Duration, timeout time.Duration) (map[string]any, error)
	CollectMessages(ctx context.Context, timeout time.Duration) ([]models.RouteMessage, error)
}

// ── Community defaults ────────────────────────────────────────

// CommunityOutputSafety is a pass-through OutputSafety that never blocks
// or replaces anything. Useful for strict-mode-disabled test wiring; the
// real implementation lives in internal/outputsafety.
type CommunityOutputSafety struct{}

func (CommunityOutputSafety) Sanitize(text string) OutputSafetyResult {
	return OutputSafetyResult{Text: text}
}

func (CommunityOutputSafety) SafeDeflection() string {
	return "I can't help with that."
}

// CommunityQuietHours is a QuietHoursChecker that is always active (never
// quiet), equivalent to a disabled quiet-hours window.
type CommunityQuietHours struct{}

func (CommunityQuietHours) IsQuietHours(time.Time) bool { return false }
func (CommunityQuietHours) CanUseLLM() bool              { return true }
func (CommunityQuietHours) TimeUntilActive(time.Time) *time.Duration {
	return nil
}
