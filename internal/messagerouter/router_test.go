package messagerouter

import (
	"testing"
	"time"

	"github.com/overblick/agentcore/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestRoute_DeliversToRegisteredAgent(t *testing.T) {
	r := New()
	r.RegisterAgent("volt", nil, 0)

	msg := r.Route("birch", "volt", "ping", map[string]any{"n": 1}, time.Minute)
	require.Equal(t, models.RoutePending, msg.Status)

	collected := r.Collect("volt")
	require.Len(t, collected, 1)
	require.Equal(t, models.RouteDelivered, collected[0].Status)
	require.Equal(t, "birch", collected[0].Source)
}

func TestRoute_UnknownTargetIsDeadLettered(t *testing.T) {
	r := New()
	r.RegisterAgent("volt", nil, 0)

	msg := r.Route("volt", "ghost", "ping", nil, time.Minute)
	require.Equal(t, models.RouteDeadLetter, msg.Status)

	dead := r.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, "ghost", dead[0].Target)
}

func TestRoute_RejectsDisallowedMessageType(t *testing.T) {
	r := New()
	r.RegisterAgent("volt", []string{"ping"}, 0)

	msg := r.Route("birch", "volt", "shutdown", nil, time.Minute)
	require.Equal(t, models.RouteRejected, msg.Status)
}

func TestRoute_RejectsWhenQueueFull(t *testing.T) {
	r := New()
	r.RegisterAgent("volt", nil, 1)

	first := r.Route("birch", "volt", "ping", nil, time.Minute)
	require.Equal(t, models.RoutePending, first.Status)

	second := r.Route("birch", "volt", "ping", nil, time.Minute)
	require.Equal(t, models.RouteRejected, second.Status)
	require.Contains(t, second.Error, "queue full")
}

func TestCollect_MovesExpiredMessagesToDeadLetters(t *testing.T) {
	r := New()
	r.RegisterAgent("volt", nil, 0)

	r.Route("birch", "volt", "ping", nil, time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	survivors := r.Collect("volt")
	require.Empty(t, survivors)

	dead := r.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, models.RouteExpired, dead[0].Status)
}

func TestCollect_DrainsQueueSoSecondCallIsEmpty(t *testing.T) {
	r := New()
	r.RegisterAgent("volt", nil, 0)
	r.Route("birch", "volt", "ping", nil, time.Minute)

	first := r.Collect("volt")
	require.Len(t, first, 1)

	second := r.Collect("volt")
	require.Empty(t, second)
}

func TestBroadcast_SkipsSourceAndFilteredAgents(t *testing.T) {
	r := New()
	r.RegisterAgent("volt", nil, 0)
	r.RegisterAgent("birch", []string{"ping"}, 0)
	r.RegisterAgent("nyx", []string{"other_type"}, 0)

	results := r.Broadcast("volt", "ping", nil, time.Minute)

	targets := map[string]bool{}
	for _, m := range results {
		targets[m.Target] = true
	}
	require.True(t, targets["birch"])
	require.False(t, targets["volt"], "broadcast never targets its own source")
	require.False(t, targets["nyx"], "nyx's filter doesn't accept ping, so it is silently skipped")
}

// Mirrors the two canonical end-to-end scenarios: a normal volt/birch/nyx
// routing round trip, and dead-lettering a message aimed at an unregistered
// "ghost" target.
func TestEndToEnd_VoltBirchNyxRoutingAndGhostDeadLetter(t *testing.T) {
	r := New()
	r.RegisterAgent("volt", nil, 0)
	r.RegisterAgent("birch", nil, 0)
	r.RegisterAgent("nyx", nil, 0)

	r.Route("volt", "birch", "greeting", map[string]any{"text": "hi birch"}, time.Minute)
	r.Route("birch", "nyx", "greeting", map[string]any{"text": "hi nyx"}, time.Minute)
	r.Route("nyx", "ghost", "greeting", map[string]any{"text": "hi ghost"}, time.Minute)

	birchInbox := r.Collect("birch")
	require.Len(t, birchInbox, 1)
	require.Equal(t, "volt", birchInbox[0].Source)

	nyxInbox := r.Collect("nyx")
	require.Len(t, nyxInbox, 1)
	require.Equal(t, "birch", nyxInbox[0].Source)

	dead := r.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, "ghost", dead[0].Target)
	require.Equal(t, "nyx", dead[0].Source)
}
