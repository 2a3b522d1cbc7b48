// Package ratelimit provides admission-time throttling for job
// submission. Limits are token buckets keyed by job type, with an
// optional global bucket covering every submission.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter throttles job submissions. The zero value allows everything;
// use SetGlobal and SetType to attach buckets. All methods are safe
// for concurrent use.
type Limiter struct {
	mu      sync.RWMutex
	global  *rate.Limiter
	perType map[string]*rate.Limiter
}

// New returns a Limiter with no limits configured.
func New() *Limiter {
	return &Limiter{perType: make(map[string]*rate.Limiter)}
}

// SetGlobal caps overall submission to r events per second with the
// given burst. A zero rate removes the global limit.
func (l *Limiter) SetGlobal(r rate.Limit, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == 0 {
		l.global = nil
		return
	}
	l.global = rate.NewLimiter(r, burst)
}

// SetType caps submission of a single job type. A zero rate removes
// the limit for that type.
func (l *Limiter) SetType(jobType string, r rate.Limit, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perType == nil {
		l.perType = make(map[string]*rate.Limiter)
	}
	if r == 0 {
		delete(l.perType, jobType)
		return
	}
	l.perType[jobType] = rate.NewLimiter(r, burst)
}

// Allow reports whether a submission of jobType may proceed now,
// consuming one token from each applicable bucket. The type bucket is
// checked first so a type-level rejection does not burn global tokens.
func (l *Limiter) Allow(jobType string) bool {
	l.mu.RLock()
	global := l.global
	typed := l.perType[jobType]
	l.mu.RUnlock()

	if typed != nil && !typed.Allow() {
		return false
	}
	if global != nil && !global.Allow() {
		return false
	}
	return true
}
