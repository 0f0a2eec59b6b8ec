// Package modelclient implements the two model-backend clients: a direct
// client for a local Ollama instance, and a client for a remote
// priority-queue gateway, both satisfying contracts.ModelClient so the
// pipeline never knows which backend it is talking to.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/rs/zerolog/log"
)

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes stray <think>...</think> spans from model output,
// per the pipeline's reasoning-extraction contract; it does not touch a
// separately-returned ReasoningContent field.
func StripThinkTags(content string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(content, ""))
}

// GatewayClient talks to a remote priority-queue gateway over HTTP, with
// exponential backoff retrying transient failures.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ contracts.ModelClient = (*GatewayClient)(nil)

// NewGatewayClient builds a client against the given gateway base URL.
func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type gatewayRequest struct {
	Messages    []gatewayMessage `json:"messages"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	TopP        float64          `json:"top_p,omitempty"`
	Priority    string           `json:"priority,omitempty"`
}

type gatewayMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type gatewayResponse struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// Chat sends req to the gateway, retrying transient HTTP/network errors
// with exponential backoff bounded by ctx's deadline.
func (c *GatewayClient) Chat(ctx context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, error) {
	body := gatewayRequest{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Priority:    req.Priority,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, gatewayMessage{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding gateway request: %w", err)
	}

	var resp *gatewayResponse
	operation := func() error {
		r, err := c.doRequest(ctx, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("gateway chat failed: %w", err)
	}

	return &contracts.ChatResponse{
		Content:          StripThinkTags(resp.Content),
		ReasoningContent: resp.ReasoningContent,
	}, nil
}

func (c *GatewayClient) doRequest(ctx context.Context, payload []byte) (*gatewayResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err // transient: retry
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway returned %d: %s", httpResp.StatusCode, string(data))
	}
	if httpResp.StatusCode >= 400 {
		return nil, backoff.Permanent(fmt.Errorf("gateway returned %d: %s", httpResp.StatusCode, string(data)))
	}

	var resp gatewayResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decoding gateway response: %w", err))
	}
	return &resp, nil
}

// HealthCheck pings the gateway's health endpoint.
func (c *GatewayClient) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("gateway health check failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases the underlying HTTP transport's idle connections.
func (c *GatewayClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
