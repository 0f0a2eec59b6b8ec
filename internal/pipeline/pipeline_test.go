package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeModelClient struct {
	response *contracts.ChatResponse
	err      error
	calls    int
}

func (f *fakeModelClient) Chat(ctx context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}
func (f *fakeModelClient) HealthCheck(ctx context.Context) bool { return true }
func (f *fakeModelClient) Close() error                         { return nil }

type fakeAudit struct {
	entries []models.AuditEntry
}

func (f *fakeAudit) Log(_ context.Context, entry models.AuditEntry) (string, error) {
	f.entries = append(f.entries, entry)
	return "audit-id", nil
}
func (f *fakeAudit) Close() error { return nil }

type fakePreflight struct {
	result contracts.PreflightResult
	err    error
	panics bool
}

func (f *fakePreflight) Check(ctx context.Context, userID, text string) (contracts.PreflightResult, error) {
	if f.panics {
		panic("preflight exploded")
	}
	return f.result, f.err
}

type fakeOutputSafety struct {
	result contracts.OutputSafetyResult
	panics bool
}

func (f *fakeOutputSafety) Sanitize(text string) contracts.OutputSafetyResult {
	if f.panics {
		panic("output safety exploded")
	}
	return f.result
}
func (f *fakeOutputSafety) SafeDeflection() string { return "I can't share that." }

// rateLimiterStub implements contracts.RateLimiter.
type rateLimiterStub struct{ allow bool }

func (r *rateLimiterStub) Allow(key string) bool                 { return r.allow }
func (r *rateLimiterStub) RetryAfter(key string) time.Duration { return 0 }

func allowedPreflight() contracts.PreflightResult {
	return contracts.PreflightResult{Allowed: true, ThreatLevel: contracts.ThreatSafe}
}

func passthroughOutputSafety(content string) *fakeOutputSafety {
	return &fakeOutputSafety{result: contracts.OutputSafetyResult{Text: content}}
}

func benignMessages() []models.ChatMessage {
	return []models.ChatMessage{{Role: "user", Content: "hello there"}}
}

func TestChat_BenignRequestSucceeds(t *testing.T) {
	client := &fakeModelClient{response: &contracts.ChatResponse{Content: "hi!"}}
	audit := &fakeAudit{}
	p, err := New("nyx", client, audit, &fakePreflight{result: allowedPreflight()},
		passthroughOutputSafety("hi!"), &rateLimiterStub{allow: true}, true)
	require.NoError(t, err)

	result := p.Chat(context.Background(), benignMessages(), ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.False(t, result.Blocked)
	require.NotNil(t, result.Content)
	require.Equal(t, "hi!", *result.Content)
	require.Equal(t, models.StageComplete, result.StagesPassed[len(result.StagesPassed)-1])
	require.Equal(t, 1, client.calls)
}

func TestChat_PreflightBlockNeverCallsModel(t *testing.T) {
	client := &fakeModelClient{response: &contracts.ChatResponse{Content: "should never see this"}}
	p, err := New("nyx", client, &fakeAudit{}, &fakePreflight{result: contracts.PreflightResult{
		Allowed: false, ThreatLevel: contracts.ThreatBlocked, Reason: "jailbreak attempt", Deflection: "nope",
	}}, passthroughOutputSafety(""), &rateLimiterStub{allow: true}, true)
	require.NoError(t, err)

	result := p.Chat(context.Background(), benignMessages(), ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.True(t, result.Blocked)
	require.Equal(t, models.StagePreflight, result.BlockStage)
	require.Equal(t, 0, client.calls)
}

func TestChat_PreflightPanicFailsClosed(t *testing.T) {
	client := &fakeModelClient{response: &contracts.ChatResponse{Content: "should never see this"}}
	p, err := New("nyx", client, &fakeAudit{}, &fakePreflight{panics: true},
		passthroughOutputSafety(""), &rateLimiterStub{allow: true}, true)
	require.NoError(t, err)

	result := p.Chat(context.Background(), benignMessages(), ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.True(t, result.Blocked)
	require.Equal(t, models.StagePreflight, result.BlockStage)
	require.Equal(t, 0, client.calls, "a panicking preflight checker must never let the model be called")
}

func TestChat_RateLimitedNeverCallsModel(t *testing.T) {
	client := &fakeModelClient{response: &contracts.ChatResponse{Content: "should never see this"}}
	p, err := New("nyx", client, &fakeAudit{}, &fakePreflight{result: allowedPreflight()},
		passthroughOutputSafety(""), &rateLimiterStub{allow: false}, true)
	require.NoError(t, err)

	result := p.Chat(context.Background(), benignMessages(), ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.True(t, result.Blocked)
	require.Equal(t, models.StageRateLimit, result.BlockStage)
	require.Equal(t, 0, client.calls)
}

func TestChat_OutputSafetyBlockSetsDeflection(t *testing.T) {
	client := &fakeModelClient{response: &contracts.ChatResponse{Content: "secret stuff"}}
	outputSafety := &fakeOutputSafety{result: contracts.OutputSafetyResult{Blocked: true, Reason: "prohibited_content", Text: "I can't share that."}}
	p, err := New("nyx", client, &fakeAudit{}, &fakePreflight{result: allowedPreflight()},
		outputSafety, &rateLimiterStub{allow: true}, true)
	require.NoError(t, err)

	result := p.Chat(context.Background(), benignMessages(), ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.True(t, result.Blocked)
	require.Equal(t, models.StageOutputSafety, result.BlockStage)
	require.Equal(t, "I can't share that.", result.Deflection)
	require.Equal(t, 1, client.calls, "the model is called once even though output safety blocks the result")
}

func TestChat_OutputSafetyPanicFailsClosed(t *testing.T) {
	client := &fakeModelClient{response: &contracts.ChatResponse{Content: "secret stuff"}}
	p, err := New("nyx", client, &fakeAudit{}, &fakePreflight{result: allowedPreflight()},
		&fakeOutputSafety{panics: true}, &rateLimiterStub{allow: true}, true)
	require.NoError(t, err)

	result := p.Chat(context.Background(), benignMessages(), ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.True(t, result.Blocked)
	require.Equal(t, models.StageOutputSafety, result.BlockStage)
}

func TestChat_ModelErrorBlocksWithLLMCallStage(t *testing.T) {
	client := &fakeModelClient{err: errors.New("gateway timeout")}
	p, err := New("nyx", client, &fakeAudit{}, &fakePreflight{result: allowedPreflight()},
		passthroughOutputSafety(""), &rateLimiterStub{allow: true}, true)
	require.NoError(t, err)

	result := p.Chat(context.Background(), benignMessages(), ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.True(t, result.Blocked)
	require.Equal(t, models.StageLLMCall, result.BlockStage)
	require.Equal(t, "gateway timeout", result.BlockReason)
}

func TestChat_EmptyModelContentBlocksAtLLMCall(t *testing.T) {
	client := &fakeModelClient{response: &contracts.ChatResponse{Content: "   "}}
	audit := &fakeAudit{}
	p, err := New("nyx", client, audit, &fakePreflight{result: allowedPreflight()},
		passthroughOutputSafety(""), &rateLimiterStub{allow: true}, true)
	require.NoError(t, err)

	result := p.Chat(context.Background(), benignMessages(), ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.True(t, result.Blocked)
	require.Equal(t, models.StageLLMCall, result.BlockStage)
	require.Equal(t, "empty", result.BlockReason)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "chat_error", audit.entries[0].Action)
	require.False(t, audit.entries[0].Success)
}

func TestNew_StrictModeRejectsMissingComponents(t *testing.T) {
	_, err := New("nyx", &fakeModelClient{}, &fakeAudit{}, nil, nil, nil, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "preflight")
	require.Contains(t, err.Error(), "output_safety")
	require.Contains(t, err.Error(), "rate_limiter")
}

func TestNew_NonStrictAllowsMissingComponents(t *testing.T) {
	_, err := New("nyx", &fakeModelClient{}, &fakeAudit{}, nil, nil, nil, false)
	require.NoError(t, err)
}

func TestSanitizeMessages_StripsControlCharsAndNullBytes(t *testing.T) {
	out := sanitizeMessages([]models.ChatMessage{
		{Role: "user", Content: "hello\x00world\x01 line\nbreak\ttab"},
	})
	require.Equal(t, "helloworld line\nbreak\ttab", out[0].Content)
}

func TestChat_SanitizesByDefaultBeforeModelCall(t *testing.T) {
	var seen string
	client := &fakeModelClient{response: &contracts.ChatResponse{Content: "ok"}}
	audit := &fakeAudit{}
	p, err := New("nyx", client, audit, &fakePreflight{result: allowedPreflight()},
		passthroughOutputSafety("ok"), &rateLimiterStub{allow: true}, true)
	require.NoError(t, err)

	recording := &recordingClient{inner: client, record: func(req contracts.ChatRequest) {
		seen = req.Messages[0].Content
	}}
	p.client = recording

	result := p.Chat(context.Background(),
		[]models.ChatMessage{{Role: "user", Content: "hi\x00there"}},
		ChatOptions{UserID: "user-1", AuditAction: "chat"})

	require.False(t, result.Blocked)
	require.Equal(t, "hithere", seen)
	require.NotContains(t, seen, "\x00")
}

type recordingClient struct {
	inner  contracts.ModelClient
	record func(contracts.ChatRequest)
}

func (r *recordingClient) Chat(ctx context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, error) {
	r.record(req)
	return r.inner.Chat(ctx, req)
}
func (r *recordingClient) HealthCheck(ctx context.Context) bool { return true }
func (r *recordingClient) Close() error                         { return nil }

func TestSanitizeContent_TruncatesLongMessages(t *testing.T) {
	long := make([]rune, maxMessageLength+500)
	for i := range long {
		long[i] = 'a'
	}
	out := sanitizeContent(string(long))
	require.Len(t, []rune(out), maxMessageLength)
}
