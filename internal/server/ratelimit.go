package server

import (
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// maxTrackedClients bounds the per-client bucket table; the least recently
// seen client is forgotten first.
const maxTrackedClients = 10000

// RateLimiter is a per-client token bucket. Each client starts with burst
// tokens and regains requestsPerMinute tokens per minute.
type RateLimiter struct {
	mu      sync.Mutex
	rate    float64 // tokens per second
	burst   float64
	clients *lru.Cache
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter. Non-positive values disable limiting.
func NewRateLimiter(requestsPerMinute, burst int) (*RateLimiter, error) {
	clients, err := lru.New(maxTrackedClients)
	if err != nil {
		return nil, fmt.Errorf("create rate limit table: %w", err)
	}
	return &RateLimiter{
		rate:    float64(requestsPerMinute) / 60,
		burst:   float64(burst),
		clients: clients,
		now:     time.Now,
	}, nil
}

// Allow takes one token for client. When the bucket is empty it returns a
// RateLimitError carrying the wait until the next token.
func (rl *RateLimiter) Allow(client string) error {
	if rl.rate <= 0 || rl.burst <= 0 {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	var b *bucket
	if v, ok := rl.clients.Get(client); ok {
		b = v.(*bucket)
		b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.last).Seconds()*rl.rate)
		b.last = now
	} else {
		b = &bucket{tokens: rl.burst, last: now}
		rl.clients.Add(client, b)
	}

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
		return &RateLimitError{Limit: int(math.Round(rl.rate * 60)), RetryAfter: wait}
	}
	b.tokens--
	return nil
}

// Tokens reports the tokens currently available to client.
func (rl *RateLimiter) Tokens(client string) float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.clients.Peek(client)
	if !ok {
		return rl.burst
	}
	b := v.(*bucket)
	return math.Min(rl.burst, b.tokens+rl.now().Sub(b.last).Seconds()*rl.rate)
}

// RateLimitError reports an exhausted bucket.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded, retry after %v", e.Limit, e.RetryAfter.Round(time.Second))
}
