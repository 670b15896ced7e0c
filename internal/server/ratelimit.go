package server

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// SenderLimiter rate-limits transaction submissions per sender address.
// Idle limiters are evicted so the map does not grow with every address
// ever seen.
type SenderLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[common.Address]*senderEntry
	now      func() time.Time
}

type senderEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSenderLimiter allows perSecond submissions per sender with the given
// burst. A non-positive perSecond disables limiting.
func NewSenderLimiter(perSecond float64, burst int) *SenderLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &SenderLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: make(map[common.Address]*senderEntry),
		now:      time.Now,
	}
}

func (l *SenderLimiter) Allow(sender common.Address) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.limiters[sender]
	if !ok {
		e = &senderEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[sender] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Sweep drops limiters idle for longer than the idle window.
func (l *SenderLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	for addr, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, addr)
		}
	}
}

func (l *SenderLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
