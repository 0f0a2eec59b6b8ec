// Package quiethours implements the timezone-aware time-window gate on
// model use, handling both the overnight (start>end) and daytime
// (start<end) window shapes.
package quiethours

import (
	"time"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
)

// Checker is the concrete implementation of contracts.QuietHoursChecker.
type Checker struct {
	settings models.QuietHoursSettings
	loc      *time.Location
}

var _ contracts.QuietHoursChecker = (*Checker)(nil)

// New builds a Checker from an identity's quiet-hours settings. An
// unrecognized timezone falls back to UTC.
func New(settings models.QuietHoursSettings) *Checker {
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return &Checker{settings: settings, loc: loc}
}

// IsQuietHours reports whether now falls within the configured window.
// When disabled, always returns false.
func (c *Checker) IsQuietHours(now time.Time) bool {
	if !c.settings.Enabled {
		return false
	}
	local := now.In(c.loc)
	hour := local.Hour()
	start, end := c.settings.StartHour, c.settings.EndHour

	if start > end {
		// Overnight window, e.g. 22 -> 7.
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}

// CanUseLLM is the inverse of IsQuietHours evaluated at the current time.
func (c *Checker) CanUseLLM() bool {
	return !c.IsQuietHours(time.Now())
}

// TimeUntilActive returns how long until quiet hours end, or nil if not
// currently in a quiet window.
func (c *Checker) TimeUntilActive(now time.Time) *time.Duration {
	if !c.IsQuietHours(now) {
		return nil
	}
	local := now.In(c.loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), c.settings.EndHour, 0, 0, 0, c.loc)
	if !end.After(local) {
		end = end.Add(24 * time.Hour)
	}
	d := end.Sub(local)
	return &d
}

// Status returns a diagnostic snapshot for the dashboard façade.
func (c *Checker) Status(now time.Time) map[string]any {
	status := map[string]any{
		"enabled":    c.settings.Enabled,
		"is_quiet":   c.IsQuietHours(now),
		"timezone":   c.settings.Timezone,
		"start_hour": c.settings.StartHour,
		"end_hour":   c.settings.EndHour,
	}
	if d := c.TimeUntilActive(now); d != nil {
		status["seconds_until_active"] = d.Seconds()
	}
	return status
}
