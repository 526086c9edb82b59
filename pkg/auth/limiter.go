// Package auth holds per-user admission controls for the relay. There is no
// authentication layer; callers are identified by the user name on their
// connection path.
package auth

import (
	"sync"

	"golang.org/x/time/rate"

	"draftwire/pkg/models"
)

// LimitConfig tunes the per-user packet rate limiter.
type LimitConfig struct {
	// RPS is the sustained packets-per-second budget per user.
	RPS float64
	// Burst is the instantaneous allowance per user.
	Burst int
}

// LimiterPool hands out one rate.Limiter per user, created lazily. A nil
// pool allows everything.
type LimiterPool struct {
	mu  sync.Mutex
	m   map[models.UserID]*rate.Limiter
	cfg LimitConfig
}

// NewLimiterPool builds a pool from cfg. Zero or negative fields fall back
// to defaults (5 rps, burst 10).
func NewLimiterPool(cfg LimitConfig) *LimiterPool {
	return &LimiterPool{cfg: cfg}
}

func (p *LimiterPool) get(user models.UserID) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[models.UserID]*rate.Limiter)
	}
	if l, ok := p.m[user]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[user] = l
	return l
}

// Allow reports whether user may submit one more packet right now.
func (p *LimiterPool) Allow(user models.UserID) bool {
	if p == nil {
		return true
	}
	return p.get(user).Allow()
}

// Forget drops the limiter state for user, typically on disconnect.
func (p *LimiterPool) Forget(user models.UserID) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.m, user)
	p.mu.Unlock()
}
