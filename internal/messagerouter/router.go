// Package messagerouter implements the supervisor-side store-and-forward
// bus that delivers typed messages between identity processes: bounded
// per-target queues, capability-filtered delivery, TTL expiry, and a
// dead-letter queue. It never calls out to another identity directly —
// delivery is always collect-driven, so a slow or wedged identity can
// never block another one.
package messagerouter

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/overblick/agentcore/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxQueueSize = 256
	maxDeadLetters      = 1024
)

// agent is one registered router participant.
type agent struct {
	name          string
	acceptedTypes map[string]bool // nil means "accepts everything"
	maxQueueSize  int
	queue         []models.RouteMessage
}

func (a *agent) accepts(msgType string) bool {
	if a.acceptedTypes == nil {
		return true
	}
	return a.acceptedTypes[msgType]
}

// Router is the in-process router a supervisor process hosts. All methods
// are safe for concurrent use.
type Router struct {
	mu          sync.Mutex
	agents      map[string]*agent
	deadLetters []models.RouteMessage
}

// New creates an empty router.
func New() *Router {
	return &Router{agents: make(map[string]*agent)}
}

// RegisterAgent adds a participant. acceptedTypes is nil/empty to accept
// every message type. maxQueueSize <= 0 uses the default cap.
func (r *Router) RegisterAgent(name string, acceptedTypes []string, maxQueueSize int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if maxQueueSize <= 0 {
		maxQueueSize = defaultMaxQueueSize
	}
	a := &agent{name: name, maxQueueSize: maxQueueSize}
	if len(acceptedTypes) > 0 {
		a.acceptedTypes = make(map[string]bool, len(acceptedTypes))
		for _, t := range acceptedTypes {
			a.acceptedTypes[t] = true
		}
	}
	r.agents[name] = a
	log.Info().Str("agent", name).Int("max_queue_size", maxQueueSize).Msg("Registered router agent")
}

// Route enqueues one message for target. Unknown target is a dead letter,
// a type the target's filter rejects is rejected, and a full queue is
// rejected with a "queue full" reason.
func (r *Router) Route(source, target, msgType string, payload map[string]any, ttl time.Duration) models.RouteMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := models.RouteMessage{
		MessageID: uuid.NewString(),
		Source:    source,
		Target:    target,
		Type:      msgType,
		Payload:   payload,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}

	dest, ok := r.agents[target]
	if !ok {
		msg.Status = models.RouteDeadLetter
		msg.Error = "unknown target: " + target
		r.addDeadLetterLocked(msg)
		return msg
	}

	if !dest.accepts(msgType) {
		msg.Status = models.RouteRejected
		msg.Error = "target does not accept message type: " + msgType
		return msg
	}

	if len(dest.queue) >= dest.maxQueueSize {
		msg.Status = models.RouteRejected
		msg.Error = "queue full"
		return msg
	}

	msg.Status = models.RoutePending
	dest.queue = append(dest.queue, msg)
	return msg
}

// Broadcast routes type to every registered agent except source. Receivers
// whose filter doesn't list the type are silently skipped (not rejected).
func (r *Router) Broadcast(source, msgType string, payload map[string]any, ttl time.Duration) []models.RouteMessage {
	r.mu.Lock()
	targets := make([]string, 0, len(r.agents))
	for name, a := range r.agents {
		if name == source {
			continue
		}
		if !a.accepts(msgType) {
			continue
		}
		targets = append(targets, name)
	}
	r.mu.Unlock()

	out := make([]models.RouteMessage, 0, len(targets))
	for _, target := range targets {
		out = append(out, r.Route(source, target, msgType, payload, ttl))
	}
	return out
}

// Collect drains target's pending queue, moving expired messages to the
// dead-letter queue instead of returning them. A second immediate call
// returns empty, since the queue is fully drained each time.
func (r *Router) Collect(target string) []models.RouteMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	dest, ok := r.agents[target]
	if !ok {
		return nil
	}

	now := time.Now()
	pending := dest.queue
	dest.queue = nil

	survivors := make([]models.RouteMessage, 0, len(pending))
	for _, msg := range pending {
		if msg.Expired(now) {
			msg.Status = models.RouteExpired
			r.addDeadLetterLocked(msg)
			continue
		}
		msg.Status = models.RouteDelivered
		survivors = append(survivors, msg)
	}
	return survivors
}

// addDeadLetterLocked appends to the dead-letter queue, dropping the
// oldest half when the cap is exceeded.
func (r *Router) addDeadLetterLocked(msg models.RouteMessage) {
	r.deadLetters = append(r.deadLetters, msg)
	if len(r.deadLetters) > maxDeadLetters {
		r.deadLetters = append([]models.RouteMessage(nil), r.deadLetters[len(r.deadLetters)/2:]...)
	}
}

// DeadLetters returns every message that ended up dead-lettered or
// expired, in the order it happened (oldest entries may have been
// dropped once the retention cap was exceeded).
func (r *Router) DeadLetters() []models.RouteMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RouteMessage, len(r.deadLetters))
	copy(out, r.deadLetters)
	return out
}
