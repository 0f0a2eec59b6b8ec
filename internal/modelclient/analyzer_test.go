package modelclient

import (
	"context"
	"errors"
	"testing"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	content string
	err     error
}

func (s stubClient) Chat(ctx context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &contracts.ChatResponse{Content: s.content}, nil
}
func (s stubClient) HealthCheck(context.Context) bool { return true }
func (s stubClient) Close() error                     { return nil }

func TestAnalyzeThreat_ParsesJudgment(t *testing.T) {
	a := NewThreatAnalyzer(stubClient{content: `{"allowed": true, "confidence": 0.92}`})

	allowed, confidence, err := a.AnalyzeThreat(context.Background(), "is this a jailbreak?")
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 0.92, confidence)
}

func TestAnalyzeThreat_NonJSONResponseIsError(t *testing.T) {
	a := NewThreatAnalyzer(stubClient{content: "not json at all"})
	_, _, err := a.AnalyzeThreat(context.Background(), "text")
	require.Error(t, err)
}

func TestAnalyzeThreat_ClientErrorPropagates(t *testing.T) {
	a := NewThreatAnalyzer(stubClient{err: errors.New("backend down")})
	_, _, err := a.AnalyzeThreat(context.Background(), "text")
	require.Error(t, err)
}
