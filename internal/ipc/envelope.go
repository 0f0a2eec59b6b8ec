// Package ipc defines the wire envelope used between an identity process
// (agentd) and the supervisor's inter-identity router, and the HMAC-signed
// sender authentication that lets the supervisor trust which identity is
// speaking without a full auth stack.
package ipc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MsgType enumerates the envelope types the supervisor understands.
type MsgType string

const (
	MsgRouteMessage    MsgType = "route_message"
	MsgBroadcast       MsgType = "broadcast"
	MsgCollectMessages MsgType = "collect_messages"
	MsgHealthInquiry   MsgType = "health_inquiry"
	MsgHealthResponse  MsgType = "health_response"
)

// Envelope is the single framing shape exchanged over the supervisor
// socket. Sender is a signed token, not a bare name — see SignSender.
type Envelope struct {
	MsgType       MsgType         `json:"msg_type"`
	Sender        string          `json:"sender"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// SignSender produces a signed sender token in the form
// base64(name) + "." + base64(HMAC-SHA256(base64(name))) so the supervisor can
// verify which identity process an envelope claims to be from without
// decoding a full token payload.
func SignSender(secret []byte, identityName string) string {
	nameB64 := base64.RawURLEncoding.EncodeToString([]byte(identityName))
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(nameB64))
	sigB64 := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return nameB64 + "." + sigB64
}

// VerifySender checks a signed sender token and returns the identity name
// it claims, or an error if the signature doesn't match.
func VerifySender(secret []byte, token string) (string, error) {
	dot := -1
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return "", fmt.Errorf("malformed sender token")
	}
	nameB64, sigB64 := token[:dot], token[dot+1:]

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(nameB64))
	expected := mac.Sum(nil)

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return "", fmt.Errorf("invalid sender signature encoding: %w", err)
	}
	if !hmac.Equal(sig, expected) {
		return "", fmt.Errorf("sender signature mismatch")
	}

	nameBytes, err := base64.RawURLEncoding.DecodeString(nameB64)
	if err != nil {
		return "", fmt.Errorf("invalid sender name encoding: %w", err)
	}
	return string(nameBytes), nil
}

// routeMessagePayload is the payload shape for MsgRouteMessage/MsgBroadcast.
type routeMessagePayload struct {
	Target     string         `json:"target,omitempty"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	TTLSeconds float64        `json:"ttl_seconds,omitempty"`
}

// collectResponsePayload is the payload shape returned for
// MsgCollectMessages.
type collectResponsePayload struct {
	Messages []routedMessageWire `json:"messages"`
}

type routedMessageWire struct {
	MessageID string         `json:"message_id"`
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
}
