package identity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/overblick/agentcore/pkg/models"
	"github.com/rs/zerolog/log"
)

var placeholderRe = regexp.MustCompile(`\{[a-zA-Z_][a-zA-Z0-9_]*\}`)

// BuildSystemPrompt assembles a text prompt from persona fields plus a
// fixed security footer. The footer is appended verbatim and is never
// subject to placeholder substitution. An unresolved {placeholder}
// surviving substitution is logged as a warning, never a hard error.
func BuildSystemPrompt(id models.Identity, platform, modelTag string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s", id.DisplayName)
	if voice, ok := id.Persona["voice"].(string); ok && voice != "" {
		fmt.Fprintf(&b, ", %s", voice)
	}
	b.WriteString(".\n")

	if traits, ok := id.Persona["traits"].(map[string]any); ok && len(traits) > 0 {
		keys := make([]string, 0, len(traits))
		for k := range traits {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Traits: ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, traits[k])
		}
		b.WriteString("\n")
	}

	if interests, ok := id.Persona["interests"].([]any); ok && len(interests) > 0 {
		b.WriteString("Interests: ")
		parts := make([]string, 0, len(interests))
		for _, v := range interests {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}

	if banned, ok := id.Persona["banned_vocabulary"].([]any); ok && len(banned) > 0 {
		parts := make([]string, 0, len(banned))
		for _, v := range banned {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		fmt.Fprintf(&b, "Never use these words: %s\n", strings.Join(parts, ", "))
	}

	if platform != "" {
		fmt.Fprintf(&b, "You are speaking on %s.\n", platform)
	}
	if modelTag != "" {
		fmt.Fprintf(&b, "Underlying model: %s.\n", modelTag)
	}

	prompt := b.String()
	if m := placeholderRe.FindString(prompt); m != "" {
		log.Warn().Str("identity", id.Name).Str("placeholder", m).
			Msg("unresolved placeholder in system prompt")
	}

	prompt += "\n" + securityFooter
	return prompt
}

// SecurityFooter exposes the fixed footer text for tests that need to
// assert on its presence without duplicating the literal string.
func SecurityFooter() string {
	return securityFooter
}
