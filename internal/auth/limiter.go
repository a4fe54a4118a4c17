package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one token bucket per client key. Buckets idle for
// longer than idle are dropped on a later call.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	rps       float64
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*limiterEntry)
	}
	now := p.clock()
	p.sweepLocked(now)
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

func (p *limiterPool) sweepLocked(now time.Time) {
	if now.Sub(p.lastSweep) < limiterSweepInterval {
		return
	}
	p.lastSweep = now
	idle := p.idle
	if idle <= 0 {
		idle = limiterIdleTTL
	}
	for key, e := range p.m {
		if now.Sub(e.lastSeen) > idle {
			delete(p.m, key)
		}
	}
}

func (p *limiterPool) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
