package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/overblick/agentcore/internal/messagerouter"
	"github.com/overblick/agentcore/pkg/models"
	"github.com/rs/zerolog/log"
)

// Server hosts the supervisor's router over a Unix domain socket, one
// newline-delimited JSON Envelope per request/response.
type Server struct {
	socketPath string
	secret     []byte
	router     *messagerouter.Router
	listener   net.Listener
}

// NewServer creates a router server bound to socketPath. secret verifies
// each envelope's signed sender field.
func NewServer(socketPath string, secret []byte, router *messagerouter.Router) *Server {
	return &Server{socketPath: socketPath, secret: secret, router: router}
}

// Serve listens on the configured socket until ctx is cancelled. Any stale
// socket file left from a previous crashed run is removed first.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	s.listener = ln
	log.Info().Str("socket", s.socketPath).Msg("IPC router server listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.handleLine(conn, line)
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleLine(conn net.Conn, line []byte) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		log.Warn().Err(err).Msg("IPC: malformed envelope")
		return
	}

	senderName, err := VerifySender(s.secret, env.Sender)
	if err != nil {
		log.Warn().Err(err).Msg("IPC: sender verification failed")
		s.reply(conn, env, nil, err)
		return
	}

	resp, err := s.dispatch(senderName, env)
	s.reply(conn, env, resp, err)
}

func (s *Server) dispatch(senderName string, env Envelope) (any, error) {
	switch env.MsgType {
	case MsgRouteMessage:
		var p routeMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding route_message payload: %w", err)
		}
		msg := s.router.Route(senderName, p.Target, p.Type, p.Payload, time.Duration(p.TTLSeconds*float64(time.Second)))
		return toWire(msg), nil

	case MsgBroadcast:
		var p routeMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decoding broadcast payload: %w", err)
		}
		msgs := s.router.Broadcast(senderName, p.Type, p.Payload, time.Duration(p.TTLSeconds*float64(time.Second)))
		wire := make([]routedMessageWire, 0, len(msgs))
		for _, m := range msgs {
			wire = append(wire, toWire(m))
		}
		return collectResponsePayload{Messages: wire}, nil

	case MsgCollectMessages:
		msgs := s.router.Collect(senderName)
		wire := make([]routedMessageWire, 0, len(msgs))
		for _, m := range msgs {
			wire = append(wire, toWire(m))
		}
		return collectResponsePayload{Messages: wire}, nil

	case MsgHealthInquiry:
		return map[string]any{"status": "ok"}, nil

	default:
		return nil, fmt.Errorf("unknown msg_type %q", env.MsgType)
	}
}

func (s *Server) reply(conn net.Conn, req Envelope, payload any, replyErr error) {
	resp := Envelope{
		MsgType:       MsgHealthResponse,
		Sender:        "supervisor",
		CorrelationID: req.CorrelationID,
	}
	if req.MsgType != MsgHealthInquiry {
		resp.MsgType = req.MsgType
	}

	body := map[string]any{}
	if replyErr != nil {
		body["error"] = replyErr.Error()
	} else {
		body["result"] = payload
	}
	raw, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("IPC: marshaling reply")
		return
	}
	resp.Payload = raw

	line, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("IPC: marshaling envelope")
		return
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		log.Warn().Err(err).Msg("IPC: writing reply")
	}
}

func toWire(m models.RouteMessage) routedMessageWire {
	return routedMessageWire{
		MessageID: m.MessageID,
		Source:    m.Source,
		Target:    m.Target,
		Type:      m.Type,
		Payload:   m.Payload,
		Status:    string(m.Status),
		Error:     m.Error,
	}
}
