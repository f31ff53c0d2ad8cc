package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// DefaultLimiterExpiry is how long an idle client's limiter is kept.
const DefaultLimiterExpiry = 3 * time.Minute

// RateLimiterStore keeps one token bucket per client identifier.
type RateLimiterStore struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	rate        rate.Limit
	burst       int
	expiresIn   time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

type visitor struct {
	*rate.Limiter
	lastSeen time.Time
}

// NewRateLimiterStore creates a store allowing rps requests per second with
// the given burst for every client.
func NewRateLimiterStore(rps float64, burst int) *RateLimiterStore {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiterStore{
		visitors:    make(map[string]*visitor),
		rate:        rate.Limit(rps),
		burst:       burst,
		expiresIn:   DefaultLimiterExpiry,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether identifier may make a request now.
func (s *RateLimiterStore) Allow(identifier string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	v, ok := s.visitors[identifier]
	if !ok {
		v = &visitor{Limiter: rate.NewLimiter(s.rate, s.burst)}
		s.visitors[identifier] = v
	}
	v.lastSeen = now
	if now.Sub(s.lastCleanup) > s.expiresIn {
		s.cleanup(now)
	}
	return v.AllowN(now, 1)
}

func (s *RateLimiterStore) cleanup(now time.Time) {
	for id, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.expiresIn {
			delete(s.visitors, id)
		}
	}
	s.lastCleanup = now
}

// Len returns the number of tracked clients.
func (s *RateLimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// RateLimiter returns a fiber middleware that answers 429 once a client IP
// exhausts its bucket.
func RateLimiter(store *RateLimiterStore) fiber.Handler {
	retryAfter := "1"
	if store.rate > 0 && store.rate < 1 {
		retryAfter = strconv.Itoa(int(1/float64(store.rate)) + 1)
	}
	return func(c *fiber.Ctx) error {
		if store.Allow(c.IP()) {
			return c.Next()
		}
		c.Set(fiber.HeaderRetryAfter, retryAfter)
		return c.Status(fiber.StatusTooManyRequests).SendString("Too Many Requests")
	}
}
