package quiethours

import (
	"testing"
	"time"

	"github.com/overblick/agentcore/pkg/models"
	"github.com/stretchr/testify/require"
)

func overnightSettings() models.QuietHoursSettings {
	return models.QuietHoursSettings{
		Enabled:   true,
		Timezone:  "UTC",
		StartHour: 22,
		EndHour:   7,
	}
}

func TestIsQuietHours_OvernightWindow(t *testing.T) {
	c := New(overnightSettings())

	at := func(hour int) time.Time {
		return time.Date(2026, 7, 31, hour, 0, 0, 0, time.UTC)
	}

	require.True(t, c.IsQuietHours(at(23)), "23:00 is inside the 22->7 window")
	require.True(t, c.IsQuietHours(at(5)), "05:00 is inside the 22->7 window")
	require.False(t, c.IsQuietHours(at(12)), "12:00 is outside the 22->7 window")
	require.False(t, c.IsQuietHours(at(7)), "the window's end hour is exclusive")
	require.True(t, c.IsQuietHours(at(22)), "the window's start hour is inclusive")
}

func TestIsQuietHours_DaytimeWindow(t *testing.T) {
	settings := overnightSettings()
	settings.StartHour, settings.EndHour = 9, 17
	c := New(settings)

	at := func(hour int) time.Time {
		return time.Date(2026, 7, 31, hour, 0, 0, 0, time.UTC)
	}

	require.True(t, c.IsQuietHours(at(12)))
	require.False(t, c.IsQuietHours(at(20)))
}

func TestIsQuietHours_DisabledAlwaysFalse(t *testing.T) {
	settings := overnightSettings()
	settings.Enabled = false
	c := New(settings)

	require.False(t, c.IsQuietHours(time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)))
}

func TestNew_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	settings := overnightSettings()
	settings.Timezone = "Not/A_Real_Zone"
	c := New(settings)
	require.Equal(t, time.UTC, c.loc)
}

func TestTimeUntilActive(t *testing.T) {
	c := New(overnightSettings())
	now := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)

	d := c.TimeUntilActive(now)
	require.NotNil(t, d)
	require.Equal(t, 8*time.Hour, *d)

	require.Nil(t, c.TimeUntilActive(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)))
}

func TestStatus(t *testing.T) {
	c := New(overnightSettings())
	now := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
	status := c.Status(now)

	require.Equal(t, true, status["is_quiet"])
	require.Contains(t, status, "seconds_until_active")
}
