package imap

import (
	"context"
	"sync"
	"time"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	er "github.com/mailwatchhq/mailwatch/internal/errors"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
)

// SessionPool bounds concurrent sessions per account and reuses idle ones.
// An idle session still counts against the account ceiling because it is an
// open server connection; Borrow prefers reuse and only dials when the
// ceiling has headroom. Waiters are served FIFO.
type SessionPool struct {
	factory interfaces.SessionFactory
	maxPer  int
	ttl     time.Duration
	log     logger.Logger

	mu       sync.Mutex
	accounts map[string]*accountSessions
	closed   bool
}

type accountSessions struct {
	total   int
	idle    []*pooledSession
	waiters []chan struct{}
}

type pooledSession struct {
	session  interfaces.IMAPSession
	idleFrom time.Time
}

func NewSessionPool(cfg *config.IMAPConfig, factory interfaces.SessionFactory, log logger.Logger) *SessionPool {
	return &SessionPool{
		factory:  factory,
		maxPer:   cfg.MaxSessionsPerAccount,
		ttl:      cfg.SessionTTL,
		log:      log,
		accounts: make(map[string]*accountSessions),
	}
}

func (p *SessionPool) Borrow(ctx context.Context, account *models.Account) (interfaces.IMAPSession, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, er.ErrPoolClosed
		}

		as, ok := p.accounts[account.ID]
		if !ok {
			as = &accountSessions{}
			p.accounts[account.ID] = as
		}

		// Reuse an idle session, newest first. Stale or broken ones are
		// closed and their slot freed.
		for len(as.idle) > 0 {
			ps := as.idle[len(as.idle)-1]
			as.idle = as.idle[:len(as.idle)-1]

			if ps.session.Broken() || time.Since(ps.idleFrom) > p.ttl {
				as.total--
				p.notifyLocked(as)
				p.mu.Unlock()
				ps.session.Logout()
				p.mu.Lock()
				continue
			}

			p.mu.Unlock()
			if err := ps.session.Noop(ctx); err != nil {
				ps.session.Logout()
				p.mu.Lock()
				as.total--
				p.notifyLocked(as)
				continue
			}
			return ps.session, nil
		}

		if as.total < p.maxPer {
			as.total++
			p.mu.Unlock()

			session, err := p.factory.Dial(ctx, account)
			if err != nil {
				p.mu.Lock()
				as.total--
				p.notifyLocked(as)
				p.mu.Unlock()
				return nil, err
			}
			return session, nil
		}

		// At the ceiling: queue up and retry when a slot or session frees.
		wait := make(chan struct{}, 1)
		as.waiters = append(as.waiters, wait)
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			p.mu.Lock()
			for i, w := range as.waiters {
				if w == wait {
					as.waiters = append(as.waiters[:i], as.waiters[i+1:]...)
					break
				}
			}
			p.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

func (p *SessionPool) Release(accountID string, session interfaces.IMAPSession) {
	if session == nil {
		return
	}
	if session.Broken() {
		p.Discard(accountID, session)
		return
	}

	p.mu.Lock()
	as, ok := p.accounts[accountID]
	if !ok || p.closed {
		p.mu.Unlock()
		session.Logout()
		return
	}
	as.idle = append(as.idle, &pooledSession{session: session, idleFrom: time.Now()})
	p.notifyLocked(as)
	p.mu.Unlock()
}

func (p *SessionPool) Discard(accountID string, session interfaces.IMAPSession) {
	if session == nil {
		return
	}
	session.Logout()

	p.mu.Lock()
	if as, ok := p.accounts[accountID]; ok {
		as.total--
		p.notifyLocked(as)
	}
	p.mu.Unlock()
}

// CloseAccount tears down idle sessions for the account. Borrowed sessions
// are closed by their holders through Discard.
func (p *SessionPool) CloseAccount(accountID string) {
	p.mu.Lock()
	as, ok := p.accounts[accountID]
	if !ok {
		p.mu.Unlock()
		return
	}
	idle := as.idle
	as.idle = nil
	as.total -= len(idle)
	for range idle {
		p.notifyLocked(as)
	}
	if as.total <= 0 && len(as.waiters) == 0 {
		delete(p.accounts, accountID)
	}
	p.mu.Unlock()

	for _, ps := range idle {
		ps.session.Logout()
	}
}

func (p *SessionPool) Close() {
	p.mu.Lock()
	p.closed = true
	var all []*pooledSession
	for _, as := range p.accounts {
		all = append(all, as.idle...)
		as.idle = nil
		for _, w := range as.waiters {
			select {
			case w <- struct{}{}:
			default:
			}
		}
		as.waiters = nil
	}
	p.mu.Unlock()

	for _, ps := range all {
		ps.session.Logout()
	}
}

// notifyLocked wakes the oldest waiter; the pool mutex must be held.
func (p *SessionPool) notifyLocked(as *accountSessions) {
	if len(as.waiters) == 0 {
		return
	}
	w := as.waiters[0]
	as.waiters = as.waiters[1:]
	select {
	case w <- struct{}{}:
	default:
	}
}
