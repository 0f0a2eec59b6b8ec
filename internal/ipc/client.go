package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/overblick/agentcore/pkg/models"
)

// Client is the connector-facing wrapper around the supervisor's router,
// satisfying contracts.MessageRouterClient over a Unix domain socket.
type Client struct {
	socketPath   string
	identityName string
	senderToken  string
}

// NewClient builds a router client for identityName, signing its sender
// field with secret so the supervisor can verify it.
func NewClient(socketPath, identityName string, secret []byte) *Client {
	return &Client{
		socketPath:   socketPath,
		identityName: identityName,
		senderToken:  SignSender(secret, identityName),
	}
}

// SendToAgent asks the supervisor to route one message to target and
// waits up to timeout for an acknowledgement.
func (c *Client) SendToAgent(ctx context.Context, target, msgType string, payload map[string]any, ttl time.Duration, timeout time.Duration) (map[string]any, error) {
	reqPayload, err := json.Marshal(routeMessagePayload{
		Target:     target,
		Type:       msgType,
		Payload:    payload,
		TTLSeconds: ttl.Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling route_message payload: %w", err)
	}

	rawResult, err := c.roundTrip(ctx, Envelope{
		MsgType:       MsgRouteMessage,
		Sender:        c.senderToken,
		Payload:       reqPayload,
		CorrelationID: uuid.NewString(),
	}, timeout)
	if err != nil {
		return nil, err
	}

	var wire routedMessageWire
	if err := json.Unmarshal(rawResult, &wire); err != nil {
		return nil, fmt.Errorf("decoding route_message response: %w", err)
	}
	return map[string]any{
		"message_id": wire.MessageID,
		"status":     wire.Status,
		"error":      wire.Error,
	}, nil
}

// CollectMessages drains this identity's pending queue from the
// supervisor.
func (c *Client) CollectMessages(ctx context.Context, timeout time.Duration) ([]models.RouteMessage, error) {
	rawResult, err := c.roundTrip(ctx, Envelope{
		MsgType:       MsgCollectMessages,
		Sender:        c.senderToken,
		CorrelationID: uuid.NewString(),
	}, timeout)
	if err != nil {
		return nil, err
	}

	var resp collectResponsePayload
	if err := json.Unmarshal(rawResult, &resp); err != nil {
		return nil, fmt.Errorf("decoding collect_messages response: %w", err)
	}

	out := make([]models.RouteMessage, 0, len(resp.Messages))
	for _, w := range resp.Messages {
		out = append(out, models.RouteMessage{
			MessageID: w.MessageID,
			Source:    w.Source,
			Target:    w.Target,
			Type:      w.Type,
			Payload:   w.Payload,
			Status:    models.RouteStatus(w.Status),
			Error:     w.Error,
		})
	}
	return out, nil
}

// roundTrip dials the socket fresh per call and returns the raw "result"
// field of the response payload. The supervisor socket is a local,
// low-latency transport; a connection pool is unnecessary overhead for
// the message volumes this core expects.
func (c *Client) roundTrip(ctx context.Context, env Envelope, timeout time.Duration) (json.RawMessage, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dialing supervisor socket: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	line, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return nil, fmt.Errorf("writing envelope: %w", err)
	}

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp Envelope
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		return nil, fmt.Errorf("decoding response payload: %w", err)
	}
	if rawErr, ok := body["error"]; ok {
		var msg string
		_ = json.Unmarshal(rawErr, &msg)
		return nil, fmt.Errorf("supervisor: %s", msg)
	}

	return body["result"], nil
}
