// Package permissions enforces per-action allow/deny, hourly-rate,
// cooldown, and one-shot approval gates for a single identity, following
// the deny-by-default policy the declarative PermissionSet expresses.
package permissions

import (
	"fmt"
	"sync"
	"time"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
)

type actionTracker struct {
	timestamps []time.Time
	lastAction time.Time
}

// Checker is the concrete implementation of contracts.PermissionChecker.
type Checker struct {
	rules map[string]models.PermissionRule

	mu        sync.Mutex
	trackers  map[string]*actionTracker
	approvals map[string]bool
}

var _ contracts.PermissionChecker = (*Checker)(nil)

// New builds a Checker from an identity's declared permission rules.
func New(rules map[string]models.PermissionRule) *Checker {
	return &Checker{
		rules:     rules,
		trackers:  make(map[string]*actionTracker),
		approvals: make(map[string]bool),
	}
}

// IsAllowed reports whether action may be performed right now, given its
// rule, the sliding hourly window, cooldown, and any pending approval.
func (c *Checker) IsAllowed(action string) bool {
	return c.denialReason(action) == ""
}

// DenialReason returns a human-readable reason the action would be
// refused, or an empty string if it would be allowed.
func (c *Checker) DenialReason(action string) string {
	return c.denialReason(action)
}

func (c *Checker) denialReason(action string) string {
	rule, ok := c.rules[action]
	if !ok || !rule.Allowed {
		return fmt.Sprintf("action %q is not permitted", action)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rule.RequiresApproval && !c.approvals[action] {
		return fmt.Sprintf("action %q requires approval", action)
	}

	tracker := c.trackers[action]
	if tracker != nil {
		if rule.MaxPerHour > 0 {
			count := c.prunedCountLocked(tracker)
			if count >= rule.MaxPerHour {
				return fmt.Sprintf("action %q exceeded hourly limit (%d/%d)", action, count, rule.MaxPerHour)
			}
		}
		if rule.CooldownSeconds > 0 && !tracker.lastAction.IsZero() {
			elapsed := time.Since(tracker.lastAction).Seconds()
			if elapsed < rule.CooldownSeconds {
				return fmt.Sprintf("action %q is in cooldown (%.1fs remaining)", action, rule.CooldownSeconds-elapsed)
			}
		}
	}

	return ""
}

func (c *Checker) prunedCountLocked(tracker *actionTracker) int {
	cutoff := time.Now().Add(-time.Hour)
	kept := tracker.timestamps[:0]
	for _, ts := range tracker.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	tracker.timestamps = kept
	return len(kept)
}

// RecordAction records that action happened now, appending to the hourly
// window, updating the cooldown clock, and consuming any pending approval.
func (c *Checker) RecordAction(action string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracker, ok := c.trackers[action]
	if !ok {
		tracker = &actionTracker{}
		c.trackers[action] = tracker
	}
	now := time.Now()
	tracker.timestamps = append(tracker.timestamps, now)
	tracker.lastAction = now
	delete(c.approvals, action)
}

// GrantApproval marks action as approved for its next (and only its
// next) RecordAction call.
func (c *Checker) GrantApproval(action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals[action] = true
}

// Stats returns a diagnostic snapshot: per-action rule plus recent usage.
func (c *Checker) Stats() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]any, len(c.rules))
	for action, rule := range c.rules {
		count := 0
		if tracker, ok := c.trackers[action]; ok {
			count = c.prunedCountLocked(tracker)
		}
		out[action] = map[string]any{
			"allowed":           rule.Allowed,
			"max_per_hour":      rule.MaxPerHour,
			"used_this_hour":    count,
			"requires_approval": rule.RequiresApproval,
			"approval_pending":  c.approvals[action],
		}
	}
	return out
}
