package identity

import (
	"strings"
	"testing"

	"github.com/overblick/agentcore/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestBuildSystemPrompt_IncludesSecurityFooterVerbatim(t *testing.T) {
	id := models.Identity{
		Name:        "nyx",
		DisplayName: "Nyx",
		Persona:     map[string]any{"voice": "wry"},
	}

	prompt := BuildSystemPrompt(id, "discord", "gpt-4o")

	require.True(t, strings.HasSuffix(prompt, SecurityFooter()))
	require.Contains(t, prompt, "You are Nyx, wry.")
	require.Contains(t, prompt, "speaking on discord")
	require.Contains(t, prompt, "gpt-4o")
}

func TestBuildSystemPrompt_OmitsEmptyOptionalFields(t *testing.T) {
	id := models.Identity{Name: "nyx", DisplayName: "Nyx"}
	prompt := BuildSystemPrompt(id, "", "")

	require.NotContains(t, prompt, "speaking on")
	require.NotContains(t, prompt, "Underlying model")
}

func TestBuildSystemPrompt_ListsBannedVocabulary(t *testing.T) {
	id := models.Identity{
		Name:        "nyx",
		DisplayName: "Nyx",
		Persona:     map[string]any{"banned_vocabulary": []any{"delve", "tapestry"}},
	}
	prompt := BuildSystemPrompt(id, "", "")
	require.Contains(t, prompt, "delve")
	require.Contains(t, prompt, "tapestry")
}
