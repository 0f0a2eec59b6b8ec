// Package outputsafety scans outbound model text for AI-language leakage,
// persona breaks, globally-prohibited content, and banned slang (which is
// replaced rather than blocked). Replacement happens before the
// block-detection check for the slang group only.
package outputsafety

import (
	"fmt"
	"math/rand"
	"regexp"

	"github.com/overblick/agentcore/pkg/contracts"
)

var aiLanguagePatterns = compileAll([]string{
	`(?i)\bI am an AI\b`,
	`(?i)\bas an AI language model\b`,
	`(?i)\bI'?m just an? (AI|language model|chatbot)\b`,
	`(?i)\bI don'?t have (personal )?(feelings|experiences|a body)\b`,
	`(?i)\bI was trained by\b`,
	`(?i)\bI cannot form (personal )?opinions\b`,
})

var blockPatterns = compileAll([]string{
	`(?i)\b(here is|here'?s) how to (make|build) (a bomb|an explosive)\b`,
	`(?i)\bstep[- ]by[- ]step (guide|instructions) to (hack|exploit)\b`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Checker is the concrete implementation of contracts.OutputSafety.
type Checker struct {
	personaPatterns []*regexp.Regexp
	slangReplace    map[*regexp.Regexp]string
	deflections     []string
}

var _ contracts.OutputSafety = (*Checker)(nil)

// New builds a Checker parameterized by the identity name (so persona-break
// patterns catch the model claiming to be a *different* assistant), a
// banned-slang-to-replacement map, and a deflection pool.
func New(identityName string, bannedSlang map[string]string, deflections []string) *Checker {
	persona := []string{
		fmt.Sprintf(`(?i)\bI am not %s\b`, regexp.QuoteMeta(identityName)),
		`(?i)\bactually,? I'?m (Claude|ChatGPT|Gemini|an? assistant)\b`,
	}

	slang := make(map[*regexp.Regexp]string, len(bannedSlang))
	for term, replacement := range bannedSlang {
		slang[regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(term)+`\b`)] = replacement
	}

	return &Checker{
		personaPatterns: compileAll(persona),
		slangReplace:    slang,
		deflections:     deflections,
	}
}

// Sanitize runs the four layers in order: AI-language, persona-break,
// banned-slang replacement, then globally-prohibited content.
func (c *Checker) Sanitize(text string) contracts.OutputSafetyResult {
	for _, re := range aiLanguagePatterns {
		if re.MatchString(text) {
			return contracts.OutputSafetyResult{Blocked: true, Reason: "ai_language_leak", Text: c.SafeDeflection()}
		}
	}

	for _, re := range c.personaPatterns {
		if re.MatchString(text) {
			return contracts.OutputSafetyResult{Blocked: true, Reason: "persona_break", Text: c.SafeDeflection()}
		}
	}

	replaced := false
	for re, replacement := range c.slangReplace {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, replacement)
			replaced = true
		}
	}

	for _, re := range blockPatterns {
		if re.MatchString(text) {
			return contracts.OutputSafetyResult{Blocked: true, Reason: "prohibited_content", Text: c.SafeDeflection()}
		}
	}

	return contracts.OutputSafetyResult{Text: text, Replaced: replaced}
}

// SafeDeflection returns a canned refusal text, chosen at random from the
// configured pool when one exists.
func (c *Checker) SafeDeflection() string {
	if len(c.deflections) == 0 {
		return "I can't share that."
	}
	return c.deflections[rand.Intn(len(c.deflections))]
}
