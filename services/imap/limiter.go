package imap

import (
	"context"
	"sync"
	"time"

	er "github.com/mailwatchhq/mailwatch/internal/errors"
)

// HostLimiter protects providers from connection storms. It enforces two
// ceilings per IMAP host: concurrent open sessions, and new dials per
// minute. Dial pacing uses a token bucket with reservations, so blocked
// callers are served in the order they reserved.
type HostLimiter struct {
	maxSessions    int
	dialsPerMinute int

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	sem chan struct{}

	tokenMu    sync.Mutex
	tokens     float64
	lastRefill time.Time
}

func NewHostLimiter(maxSessions, dialsPerMinute int) *HostLimiter {
	return &HostLimiter{
		maxSessions:    maxSessions,
		dialsPerMinute: dialsPerMinute,
		hosts:          make(map[string]*hostState),
	}
}

func (l *HostLimiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.hosts[host]
	if !ok {
		st = &hostState{
			sem:        make(chan struct{}, l.maxSessions),
			tokens:     float64(l.dialsPerMinute),
			lastRefill: time.Now(),
		}
		l.hosts[host] = st
	}
	return st
}

// Acquire takes a session slot and a dial token for the host, blocking
// until both are available or the context ends.
func (l *HostLimiter) Acquire(ctx context.Context, host string) error {
	st := l.state(host)

	select {
	case st.sem <- struct{}{}:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return er.ErrConnectionTimeout
		}
		return ctx.Err()
	}

	wait := st.reserveDialToken(l.dialsPerMinute)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		<-st.sem
		if ctx.Err() == context.DeadlineExceeded {
			return er.ErrConnectionTimeout
		}
		return ctx.Err()
	}
}

// Release frees a session slot. Called exactly once per successful Acquire,
// when the session logs out.
func (l *HostLimiter) Release(host string) {
	st := l.state(host)
	select {
	case <-st.sem:
	default:
		// released without a matching acquire; drop on the floor
	}
}

// InUse reports the open session count for the host.
func (l *HostLimiter) InUse(host string) int {
	return len(l.state(host).sem)
}

// reserveDialToken debits one token and returns how long the caller must
// wait before dialing. The balance may go negative, which is what makes
// reservations fair under contention.
func (st *hostState) reserveDialToken(perMinute int) time.Duration {
	if perMinute <= 0 {
		return 0
	}

	st.tokenMu.Lock()
	defer st.tokenMu.Unlock()

	now := time.Now()
	ratePerSecond := float64(perMinute) / 60.0

	elapsed := now.Sub(st.lastRefill).Seconds()
	st.tokens += elapsed * ratePerSecond
	if st.tokens > float64(perMinute) {
		st.tokens = float64(perMinute)
	}
	st.lastRefill = now

	st.tokens--
	if st.tokens >= 0 {
		return 0
	}
	return time.Duration(-st.tokens / ratePerSecond * float64(time.Second))
}
