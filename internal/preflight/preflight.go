// Package preflight inspects inbound user text for jailbreak, persona
// hijack, prompt injection, and extraction attempts before it reaches the
// model client. Detection runs on both the raw text and a
// unicode-lookalike-normalized form; suspicious-but-not-blocked text may
// escalate to a model-assisted judgment call.
package preflight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/overblick/agentcore/pkg/contracts"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
)

const (
	maxCacheSize      = 10_000
	maxUserContexts   = 5_000
	cacheTTL          = 10 * time.Minute
	blockDuration     = 15 * time.Minute
	aiConfidenceGate  = 0.7
)

// unicodeLookalikes maps common Cyrillic/Greek homoglyphs to their ASCII
// lookalike, so "іgnore" (Cyrillic і) normalizes to "ignore".
var unicodeLookalikes = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	'і': 'i', 'ѕ': 's', 'ԁ': 'd', 'ѵ': 'v',
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', 'Κ': 'K',
	'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
}

var instantBlockPatterns = compileAll([]string{
	`(?i)ignore (all )?(previous|prior|above) instructions`,
	`(?i)disregard (all )?(previous|prior|above) (instructions|rules)`,
	`(?i)act as (DAN|jailbreak|unrestricted)`,
	`(?i)you are now (DAN|in developer mode|jailbroken)`,
	`(?i)pretend (you have|to have) no (restrictions|guidelines|filters)`,
	`(?i)reveal your (system prompt|instructions|configuration)`,
	`(?i)what (is|are) your (system prompt|initial instructions)`,
	`(?i)repeat (the words|everything) (above|before this)`,
	`(?i)from now on,? you (are|will be) .*(unfiltered|uncensored)`,
	`(?i)enter (developer|debug|god) mode`,
	`(?i)bypass (your|all) (safety|content) (filters|restrictions)`,
	`(?i)roleplay as .*(with no|without any) (restrictions|rules|filters)`,
})

var suspicionPatterns = compileAll([]string{
	`(?i)pretend (to be|you are)`,
	`(?i)hypothetically`,
	`(?i)for (a story|fiction|a novel)`,
	`(?i)as an? (AI language model|assistant),? (can|could) you`,
	`(?i)what would you say if`,
	`(?i)let'?s play a game`,
	`(?i)in character`,
	`(?i)override`,
})

var compactBlockTerms = []string{
	"ignoreallinstructions", "actasdan", "jailbreakmode", "developermode",
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// SecurityContext tracks one user's accumulated suspicion state.
type SecurityContext struct {
	UserID          string
	SuspicionScore  float64
	LastInteraction time.Time
	EscalationCount int
	BlockedUntil    time.Time
}

type cacheEntry struct {
	result    contracts.PreflightResult
	expiresAt time.Time
}

// AIAnalyzer is the narrow model-client capability preflight needs for
// escalation: one constrained JSON-structured call.
type AIAnalyzer interface {
	AnalyzeThreat(ctx context.Context, text string) (allowed bool, confidence float64, err error)
}

// Checker is the concrete implementation of contracts.PreflightChecker.
type Checker struct {
	admins      map[string]bool
	deflections map[string][]string
	analyzer    AIAnalyzer

	mu            sync.Mutex
	messageCache  map[string]cacheEntry
	userContexts  map[string]*SecurityContext
	dedup         singleflight.Group
}

var _ contracts.PreflightChecker = (*Checker)(nil)

// New builds a Checker. analyzer may be nil to disable model-assisted
// escalation; suspicious text then passes on its pattern score alone.
func New(admins []string, deflections map[string][]string, analyzer AIAnalyzer) *Checker {
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	return &Checker{
		admins:       adminSet,
		deflections:  deflections,
		analyzer:     analyzer,
		messageCache: make(map[string]cacheEntry),
		userContexts: make(map[string]*SecurityContext),
	}
}

// Check runs the full preflight pipeline for one message from userID.
func (c *Checker) Check(ctx context.Context, userID, text string) (contracts.PreflightResult, error) {
	start := time.Now()
	result, err := c.check(ctx, userID, text)
	result.AnalysisTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result, err
}

func (c *Checker) check(ctx context.Context, userID, text string) (contracts.PreflightResult, error) {
	if c.admins[userID] {
		return contracts.PreflightResult{Allowed: true, ThreatLevel: contracts.ThreatSafe}, nil
	}

	secCtx := c.getUserContext(userID)
	if !secCtx.BlockedUntil.IsZero() && time.Now().Before(secCtx.BlockedUntil) {
		return contracts.PreflightResult{
			Allowed:     false,
			ThreatLevel: contracts.ThreatBlocked,
			Reason:      "user is temporarily blocked",
			Deflection:  c.deflectionFor(contracts.ThreatJailbreak),
		}, nil
	}

	cacheKey := hashMessage(text)
	if cached, ok := c.getCached(cacheKey); ok {
		return cached, nil
	}

	// singleflight collapses concurrent identical-message checks so the
	// pattern/AI-analysis cost is paid once per distinct message.
	v, err, _ := c.dedup.Do(cacheKey, func() (any, error) {
		result := c.checkPatterns(ctx, text)
		if result.ThreatLevel == contracts.ThreatSuspicious && c.analyzer != nil {
			result = c.escalate(ctx, text)
		}
		c.updateUserContext(userID, result)
		c.cacheResult(cacheKey, result)
		return result, nil
	})
	if err != nil {
		return contracts.PreflightResult{}, err
	}
	return v.(contracts.PreflightResult), nil
}

func (c *Checker) checkPatterns(_ context.Context, text string) contracts.PreflightResult {
	normalized := normalizeForPatterns(text)

	compact := strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, normalized))
	for _, term := range compactBlockTerms {
		if strings.Contains(compact, term) {
			return contracts.PreflightResult{
				ThreatLevel: contracts.ThreatBlocked,
				ThreatType:  contracts.ThreatJailbreak,
				ThreatScore: 1.0,
				Reason:      "matched compact block term",
				Deflection:  c.deflectionFor(contracts.ThreatJailbreak),
			}
		}
	}

	for _, candidate := range []string{text, normalized} {
		for _, re := range instantBlockPatterns {
			if re.MatchString(candidate) {
				return contracts.PreflightResult{
					ThreatLevel: contracts.ThreatBlocked,
					ThreatType:  contracts.ThreatJailbreak,
					ThreatScore: 1.0,
					Reason:      "matched instant-block pattern",
					Deflection:  c.deflectionFor(contracts.ThreatJailbreak),
				}
			}
		}
	}

	var score float64
	var matches int
	for _, candidate := range []string{text, normalized} {
		for _, re := range suspicionPatterns {
			if re.MatchString(candidate) {
				matches++
			}
		}
	}
	if matches > 0 {
		score = 0.3 + 0.1*float64(matches)
		return contracts.PreflightResult{
			Allowed:     true,
			ThreatLevel: contracts.ThreatSuspicious,
			ThreatType:  contracts.ThreatNone,
			ThreatScore: score,
			Reason:      "matched suspicion patterns",
		}
	}

	return contracts.PreflightResult{Allowed: true, ThreatLevel: contracts.ThreatSafe}
}

func (c *Checker) escalate(ctx context.Context, text string) contracts.PreflightResult {
	allowed, confidence, err := c.analyzer.AnalyzeThreat(ctx, text)
	if err != nil {
		// Fail-closed: an analyzer error blocks, it never passes through.
		return contracts.PreflightResult{
			ThreatLevel: contracts.ThreatBlocked,
			ThreatType:  contracts.ThreatNone,
			ThreatScore: 0.8,
			Reason:      "threat analysis unavailable",
			Deflection:  c.deflectionFor(contracts.ThreatJailbreak),
		}
	}
	// Block only when the analyzer is confident the message is an attack;
	// an uncertain verdict lets the message through.
	if !allowed && confidence >= aiConfidenceGate {
		return contracts.PreflightResult{
			ThreatLevel: contracts.ThreatBlocked,
			ThreatType:  contracts.ThreatJailbreak,
			ThreatScore: confidence,
			Reason:      "escalated analysis flagged manipulation",
			Deflection:  c.deflectionFor(contracts.ThreatJailbreak),
		}
	}
	return contracts.PreflightResult{Allowed: true, ThreatLevel: contracts.ThreatSafe}
}

func (c *Checker) deflectionFor(t contracts.ThreatType) string {
	if options, ok := c.deflections[string(t)]; ok && len(options) > 0 {
		return options[rand.Intn(len(options))]
	}
	defaults := map[contracts.ThreatType]string{
		contracts.ThreatJailbreak:     "I can't go along with that.",
		contracts.ThreatPersonaHijack: "I'm going to stay myself, thanks.",
		contracts.ThreatPromptInject:  "That's not something I can do.",
		contracts.ThreatExtraction:    "I don't share that kind of detail.",
	}
	if d, ok := defaults[t]; ok {
		return d
	}
	return "I can't help with that."
}

func normalizeForPatterns(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if repl, ok := unicodeLookalikes[r]; ok {
			return repl
		}
		return r
	}, text)

	decomposed := norm.NFKD.String(mapped)
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Me, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func hashMessage(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *Checker) getUserContext(userID string) *SecurityContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.userContexts[userID]
	if !ok {
		ctx = &SecurityContext{UserID: userID}
		c.userContexts[userID] = ctx
		c.evictStaleContextsLocked()
	}
	ctx.LastInteraction = time.Now()
	return ctx
}

func (c *Checker) updateUserContext(userID string, result contracts.PreflightResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := c.userContexts[userID]
	if ctx == nil {
		ctx = &SecurityContext{UserID: userID}
		c.userContexts[userID] = ctx
	}
	ctx.LastInteraction = time.Now()
	if result.ThreatLevel == contracts.ThreatBlocked {
		ctx.EscalationCount++
		ctx.SuspicionScore += result.ThreatScore
		if ctx.EscalationCount >= 3 {
			ctx.BlockedUntil = time.Now().Add(blockDuration)
		}
	}
}

func (c *Checker) evictStaleContextsLocked() {
	if len(c.userContexts) <= maxUserContexts {
		return
	}
	type kv struct {
		id   string
		last time.Time
	}
	entries := make([]kv, 0, len(c.userContexts))
	for id, ctx := range c.userContexts {
		entries = append(entries, kv{id, ctx.LastInteraction})
	}
	// Evict the oldest half by last interaction.
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].last.Before(entries[i].last) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	for i := 0; i < len(entries)/2; i++ {
		delete(c.userContexts, entries[i].id)
	}
}

func (c *Checker) getCached(key string) (contracts.PreflightResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.messageCache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return contracts.PreflightResult{}, false
	}
	return entry.result, true
}

func (c *Checker) cacheResult(key string, result contracts.PreflightResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCache[key] = cacheEntry{result: result, expiresAt: time.Now().Add(cacheTTL)}
	c.evictExpiredCacheLocked()
}

func (c *Checker) evictExpiredCacheLocked() {
	now := time.Now()
	for k, v := range c.messageCache {
		if now.After(v.expiresAt) {
			delete(c.messageCache, k)
		}
	}
	if len(c.messageCache) <= maxCacheSize {
		return
	}
	type kv struct {
		key     string
		expires time.Time
	}
	entries := make([]kv, 0, len(c.messageCache))
	for k, v := range c.messageCache {
		entries = append(entries, kv{k, v.expiresAt})
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].expires.Before(entries[i].expires) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	for i := 0; i < len(entries)/2; i++ {
		delete(c.messageCache, entries[i].key)
	}
}
