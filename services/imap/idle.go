package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"

	"github.com/mailwatchhq/mailwatch/interfaces"
	er "github.com/mailwatchhq/mailwatch/internal/errors"
)

// Idle parks the session in IDLE until the server pushes a mailbox change,
// the timeout elapses, or the connection drops. The caller re-SELECTs and
// reconciles after IdleChange; this only reports that something moved.
//
// The timeout is the renewal ceiling. RFC 2177 lets servers drop clients
// idle for 29 minutes, so callers pass slightly less and reissue.
func (s *Session) Idle(ctx context.Context, timeout time.Duration) (interfaces.IdleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken {
		return interfaces.IdleDropped, er.ErrSessionBroken
	}

	updates := make(chan client.Update, 64)
	s.cl.Updates = updates
	defer func() { s.cl.Updates = nil }()

	stop := make(chan struct{})
	var stopOnce sync.Once
	halt := func() { stopOnce.Do(func() { close(stop) }) }

	idleDone := make(chan error, 1)
	go func() {
		s.cl.Timeout = 0
		idleDone <- s.cl.Idle(stop, nil)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case update := <-updates:
			switch update.(type) {
			case *client.MailboxUpdate, *client.ExpungeUpdate, *client.MessageUpdate:
				halt()
				if err := <-idleDone; err != nil {
					s.broken = true
				}
				return interfaces.IdleChange, nil
			default:
				// status noise, keep idling
			}

		case <-timer.C:
			halt()
			if err := <-idleDone; err != nil {
				s.broken = true
				return interfaces.IdleDropped, err
			}
			return interfaces.IdleTimeout, nil

		case <-ctx.Done():
			halt()
			<-idleDone
			return interfaces.IdleTimeout, ctx.Err()

		case err := <-idleDone:
			// IDLE returned without being asked to stop
			if err != nil {
				s.broken = true
				return interfaces.IdleDropped, err
			}
			return interfaces.IdleTimeout, nil
		}
	}
}
