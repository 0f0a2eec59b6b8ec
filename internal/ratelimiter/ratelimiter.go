// Package ratelimiter implements a single-process token bucket with
// continuous refill. Admission is always immediate: a key with an empty
// bucket is refused on the spot, never made to wait.
package ratelimiter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/overblick/agentcore/pkg/contracts"
)

const maxBuckets = 10_000

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is the concrete implementation of contracts.RateLimiter.
type Limiter struct {
	maxTokens  float64
	refillRate float64 // tokens per second

	mu      sync.Mutex
	buckets map[string]*bucket
}

var _ contracts.RateLimiter = (*Limiter)(nil)

// New creates a limiter with the given bucket capacity and refill rate
// (tokens/sec), shared across all keys.
func New(maxTokens, refillRate float64) *Limiter {
	return &Limiter{
		maxTokens:  maxTokens,
		refillRate: refillRate,
		buckets:    make(map[string]*bucket),
	}
}

// Allow consumes one token for key if available, refilling continuously
// based on elapsed wall time since the last call.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucketLocked(key)
	l.refillLocked(b)

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter reports how long until key would have at least one token,
// without consuming one. It does create the bucket if needed and apply
// any pending refill.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getBucketLocked(key)
	l.refillLocked(b)

	if b.tokens >= 1 {
		return 0
	}
	if l.refillRate <= 0 {
		return time.Duration(1<<63 - 1)
	}
	needed := 1 - b.tokens
	return time.Duration(needed/l.refillRate*1000) * time.Millisecond
}

func (l *Limiter) getBucketLocked(key string) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxBuckets {
			l.evictIdleLocked()
		}
		b = &bucket{tokens: l.maxTokens, lastRefill: time.Now()}
		l.buckets[key] = b
	}
	return b
}

// evictIdleLocked drops the half of the buckets with the oldest refill
// time. An evicted key simply starts over with a full bucket, which only
// errs in the caller's favor.
func (l *Limiter) evictIdleLocked() {
	type kv struct {
		key  string
		last time.Time
	}
	entries := make([]kv, 0, len(l.buckets))
	for k, b := range l.buckets {
		entries = append(entries, kv{k, b.lastRefill})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].last.Before(entries[j].last) })
	for i := 0; i < len(entries)/2; i++ {
		delete(l.buckets, entries[i].key)
	}
}

func (l *Limiter) refillLocked(b *bucket) {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * l.refillRate
	if b.tokens > l.maxTokens {
		b.tokens = l.maxTokens
	}
	b.lastRefill = now
}

// HumanRetryAfter renders RetryAfter as a short human-readable string for
// use in a PipelineResult's block reason.
func HumanRetryAfter(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
