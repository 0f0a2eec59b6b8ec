// Package pipeline implements the six-stage gated chain every external
// model invocation must traverse: input sanitize, preflight, rate limit,
// model call, output safety, audit. Any security-critical stage
// (preflight, output safety) that raises is treated as a refusal, never
// as a pass-through.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxMessageLength = 16_000

var tracer = otel.Tracer("agentcore/pipeline")

// ChatOptions configures one call to Pipeline.Chat.
type ChatOptions struct {
	UserID      string
	Temperature float64
	MaxTokens   int
	TopP        float64
	// SkipSanitize, SkipPreflight, and SkipOutputSafety are opt-outs: the
	// zero-value ChatOptions runs every stage.
	SkipSanitize     bool
	SkipPreflight    bool
	SkipOutputSafety bool
	AuditAction      string
	AuditDetails     map[string]any
	Priority         string
}

// Pipeline is the central security object wrapping one identity's model
// client with the six mandatory gates.
type Pipeline struct {
	identityName  string
	client        contracts.ModelClient
	audit         contracts.AuditLog
	preflight     contracts.PreflightChecker
	outputSafety  contracts.OutputSafety
	rateLimiter   contracts.RateLimiter
	rateLimitKey  string
}

// New constructs a Pipeline. When strict is true, construction fails if
// any of {preflight, outputSafety, rateLimiter} is nil.
func New(
	identityName string,
	client contracts.ModelClient,
	audit contracts.AuditLog,
	preflight contracts.PreflightChecker,
	outputSafety contracts.OutputSafety,
	rateLimiter contracts.RateLimiter,
	strict bool,
) (*Pipeline, error) {
	if strict {
		missing := []string{}
		if preflight == nil {
			missing = append(missing, "preflight")
		}
		if outputSafety == nil {
			missing = append(missing, "output_safety")
		}
		if rateLimiter == nil {
			missing = append(missing, "rate_limiter")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("strict pipeline missing required components: %s", strings.Join(missing, ", "))
		}
	}

	return &Pipeline{
		identityName: identityName,
		client:       client,
		audit:        audit,
		preflight:    preflight,
		outputSafety: outputSafety,
		rateLimiter:  rateLimiter,
		rateLimitKey: "llm_pipeline",
	}, nil
}

// Chat runs messages through all six stages and returns the sole result
// type; it never returns a Go error. Policy refusals and failures alike
// come back as a PipelineResult.
func (p *Pipeline) Chat(ctx context.Context, messages []models.ChatMessage, opts ChatOptions) models.PipelineResult {
	ctx, span := tracer.Start(ctx, "pipeline.chat", trace.WithAttributes(
		attribute.String("identity", p.identityName),
		attribute.String("audit.action", opts.AuditAction),
	))
	defer span.End()

	start := time.Now()
	result := models.PipelineResult{
		StageTimings: make(map[models.PipelineStage]float64),
	}

	// Stage 1: input sanitize.
	stageStart := time.Now()
	if !opts.SkipSanitize {
		messages = sanitizeMessages(messages)
	}
	result.StageTimings[models.StageInputSanitize] = elapsedMs(stageStart)
	result.StagesPassed = append(result.StagesPassed, models.StageInputSanitize)

	// Stage 2: preflight.
	stageStart = time.Now()
	if !opts.SkipPreflight {
		if blocked := p.runPreflight(ctx, messages, opts, &result); blocked {
			result.DurationMs = elapsedMs(start)
			return result
		}
	} else {
		p.auditSkip(ctx, "preflight", opts)
	}
	result.StageTimings[models.StagePreflight] = elapsedMs(stageStart)
	result.StagesPassed = append(result.StagesPassed, models.StagePreflight)

	// Stage 3: rate limit.
	stageStart = time.Now()
	if p.rateLimiter != nil {
		key := p.rateLimitKey + ":" + opts.UserID
		if !p.rateLimiter.Allow(key) {
			retryAfter := p.rateLimiter.RetryAfter(key)
			result.Blocked = true
			result.BlockStage = models.StageRateLimit
			result.BlockReason = fmt.Sprintf("rate limited; retry after %s", humanDuration(retryAfter))
			result.StageTimings[models.StageRateLimit] = elapsedMs(stageStart)
			result.DurationMs = elapsedMs(start)
			p.auditBlocked(ctx, opts, result)
			return result
		}
	}
	result.StageTimings[models.StageRateLimit] = elapsedMs(stageStart)
	result.StagesPassed = append(result.StagesPassed, models.StageRateLimit)

	// Stage 4: model call.
	stageStart = time.Now()
	resp, err := p.client.Chat(ctx, contracts.ChatRequest{
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Priority:    opts.Priority,
	})
	result.StageTimings[models.StageLLMCall] = elapsedMs(stageStart)
	if err != nil {
		result.Blocked = true
		result.BlockStage = models.StageLLMCall
		result.BlockReason = err.Error()
		result.DurationMs = elapsedMs(start)
		p.auditError(ctx, opts, result, err)
		return result
	}
	if strings.TrimSpace(resp.Content) == "" {
		result.Blocked = true
		result.BlockStage = models.StageLLMCall
		result.BlockReason = "empty"
		result.DurationMs = elapsedMs(start)
		p.auditError(ctx, opts, result, errors.New("empty model response"))
		return result
	}
	result.StagesPassed = append(result.StagesPassed, models.StageLLMCall)
	result.RawResponse = resp
	result.ReasoningContent = resp.ReasoningContent
	content := resp.Content

	// Stage 5: output safety.
	stageStart = time.Now()
	if !opts.SkipOutputSafety && p.outputSafety != nil {
		safetyResult := p.runOutputSafety(content)
		if safetyResult.Blocked {
			result.Blocked = true
			result.BlockStage = models.StageOutputSafety
			result.BlockReason = safetyResult.Reason
			result.Deflection = safetyResult.Text
			result.StageTimings[models.StageOutputSafety] = elapsedMs(stageStart)
			result.DurationMs = elapsedMs(start)
			p.auditBlocked(ctx, opts, result)
			return result
		}
		content = safetyResult.Text
	}
	result.StageTimings[models.StageOutputSafety] = elapsedMs(stageStart)
	result.StagesPassed = append(result.StagesPassed, models.StageOutputSafety)

	// Stage 6: audit (success).
	result.Content = &content
	result.DurationMs = elapsedMs(start)
	result.StagesPassed = append(result.StagesPassed, models.StageComplete)
	p.auditSuccess(ctx, opts, result, len(content))

	return result
}

func (p *Pipeline) runPreflight(ctx context.Context, messages []models.ChatMessage, opts ChatOptions, result *models.PipelineResult) (blocked bool) {
	if p.preflight == nil {
		return false
	}

	lastUser := lastUserMessage(messages)
	preflightResult, err := p.safePreflightCheck(ctx, opts.UserID, lastUser)
	if err != nil {
		// Fail-closed: any exception from preflight is a refusal.
		result.Blocked = true
		result.BlockStage = models.StagePreflight
		result.BlockReason = "unavailable: " + err.Error()
		p.auditBlocked(ctx, opts, *result)
		return true
	}

	if !preflightResult.Allowed && preflightResult.ThreatLevel == contracts.ThreatBlocked {
		result.Blocked = true
		result.BlockStage = models.StagePreflight
		result.BlockReason = preflightResult.Reason
		result.Deflection = preflightResult.Deflection
		p.auditBlocked(ctx, opts, *result)
		return true
	}

	return false
}

// safePreflightCheck wraps the preflight call with panic recovery so a
// defect in the checker itself cannot crash the pipeline — it is treated
// as a fail-closed exception.
func (p *Pipeline) safePreflightCheck(ctx context.Context, userID, text string) (res contracts.PreflightResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("preflight check panicked: %v", r)
		}
	}()
	return p.preflight.Check(ctx, userID, text)
}

func (p *Pipeline) runOutputSafety(content string) (res contracts.OutputSafetyResult) {
	defer func() {
		if r := recover(); r != nil {
			res = contracts.OutputSafetyResult{
				Blocked: true,
				Reason:  fmt.Sprintf("output safety panicked: %v", r),
				Text:    p.outputSafety.SafeDeflection(),
			}
		}
	}()
	return p.outputSafety.Sanitize(content)
}

func lastUserMessage(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func sanitizeMessages(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = models.ChatMessage{Role: m.Role, Content: sanitizeContent(m.Content)}
	}
	return out
}

func sanitizeContent(content string) string {
	var b strings.Builder
	for _, r := range content {
		if r == 0 {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	content = strings.ToValidUTF8(b.String(), "")
	runes := []rune(content)
	if len(runes) > maxMessageLength {
		runes = runes[:maxMessageLength]
	}
	return string(runes)
}

func elapsedMs(since time.Time) float64 {
	return float64(time.Since(since).Microseconds()) / 1000.0
}

func humanDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func (p *Pipeline) auditSuccess(ctx context.Context, opts ChatOptions, result models.PipelineResult, contentLen int) {
	if p.audit == nil {
		return
	}
	details := cloneDetails(opts.AuditDetails)
	details["content_length"] = contentLen
	_, _ = p.audit.Log(ctx, models.AuditEntry{
		Action:     opts.AuditAction,
		Category:   "llm_call",
		Details:    details,
		Success:    true,
		DurationMs: result.DurationMs,
	})
}

func (p *Pipeline) auditBlocked(ctx context.Context, opts ChatOptions, result models.PipelineResult) {
	if p.audit == nil {
		return
	}
	details := cloneDetails(opts.AuditDetails)
	details["block_stage"] = string(result.BlockStage)
	details["block_reason"] = result.BlockReason
	_, _ = p.audit.Log(ctx, models.AuditEntry{
		Action:     opts.AuditAction + "_blocked",
		Category:   "llm_call",
		Details:    details,
		Success:    false,
		DurationMs: result.DurationMs,
		Error:      result.BlockReason,
	})
}

func (p *Pipeline) auditError(ctx context.Context, opts ChatOptions, result models.PipelineResult, err error) {
	if p.audit == nil {
		return
	}
	details := cloneDetails(opts.AuditDetails)
	details["block_stage"] = string(result.BlockStage)
	_, _ = p.audit.Log(ctx, models.AuditEntry{
		Action:     opts.AuditAction + "_error",
		Category:   "llm_call",
		Details:    details,
		Success:    false,
		DurationMs: result.DurationMs,
		Error:      err.Error(),
	})
}

func (p *Pipeline) auditSkip(ctx context.Context, stage string, opts ChatOptions) {
	if p.audit == nil {
		return
	}
	details := cloneDetails(opts.AuditDetails)
	details["skipped_stage"] = stage
	_, _ = p.audit.Log(ctx, models.AuditEntry{
		Action:   opts.AuditAction + "_stage_skipped",
		Category: "llm_call",
		Details:  details,
		Success:  true,
	})
}

func cloneDetails(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
