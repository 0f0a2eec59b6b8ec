package outputsafety

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize_PassesCleanText(t *testing.T) {
	c := New("nyx", nil, nil)
	result := c.Sanitize("just a normal reply about the weather")

	require.False(t, result.Blocked)
	require.False(t, result.Replaced)
	require.Equal(t, "just a normal reply about the weather", result.Text)
}

func TestSanitize_BlocksAILanguageLeak(t *testing.T) {
	c := New("nyx", nil, nil)
	result := c.Sanitize("As an AI language model, I can't have opinions.")

	require.True(t, result.Blocked)
	require.Equal(t, "ai_language_leak", result.Reason)
}

func TestSanitize_BlocksPersonaBreak(t *testing.T) {
	c := New("nyx", nil, nil)
	result := c.Sanitize("I am not nyx, I'm just a fictional persona.")

	require.True(t, result.Blocked)
	require.Equal(t, "persona_break", result.Reason)
}

func TestSanitize_ReplacesBannedSlangBeforeBlockCheck(t *testing.T) {
	c := New("nyx", map[string]string{"dang": "darn"}, nil)
	result := c.Sanitize("well dang, that's rough")

	require.False(t, result.Blocked)
	require.True(t, result.Replaced)
	require.Equal(t, "well darn, that's rough", result.Text)
}

func TestSanitize_BlocksProhibitedContent(t *testing.T) {
	c := New("nyx", nil, nil)
	result := c.Sanitize("here is how to make a bomb")

	require.True(t, result.Blocked)
	require.Equal(t, "prohibited_content", result.Reason)
}

func TestSafeDeflection_FallsBackWhenEmpty(t *testing.T) {
	c := New("nyx", nil, nil)
	require.NotEmpty(t, c.SafeDeflection())
}

func TestSafeDeflection_UsesConfiguredPool(t *testing.T) {
	c := New("nyx", nil, []string{"only-option"})
	require.Equal(t, "only-option", c.SafeDeflection())
}
