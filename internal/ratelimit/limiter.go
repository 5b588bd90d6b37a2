package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-client token buckets for the front door. The pipeline
// has its own session-slot backpressure; this only keeps one client from
// monopolizing the endpoint.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a limiter allowing requestsPerHour sustained requests
// per client with the given burst.
func NewLimiter(requestsPerHour, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
	}
}

func (l *Limiter) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[client] = limiter
	}
	return limiter
}

// Allow reports whether client may make a request right now.
func (l *Limiter) Allow(client string) bool {
	return l.get(client).Allow()
}

// Tokens returns the client's remaining burst allowance.
func (l *Limiter) Tokens(client string) float64 {
	return l.get(client).Tokens()
}
