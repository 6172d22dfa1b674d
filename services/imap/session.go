package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	er "github.com/mailwatchhq/mailwatch/internal/errors"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
)

const (
	CapabilityIdle      = "IDLE"
	CapabilityCondStore = "CONDSTORE"
	CapabilityMove      = "MOVE"
	CapabilityUidPlus   = "UIDPLUS"
)

// Session is one authenticated IMAP dialogue. All commands are serialized
// behind a mutex; the underlying client is not safe for concurrent commands.
type Session struct {
	cl         *client.Client
	caps       map[string]bool
	cmdTimeout time.Duration
	accountID  string
	host       string
	bornAt     time.Time

	mu     sync.Mutex
	broken bool

	// returns the host limiter slot, exactly once, at Logout
	release   func()
	releaseMu sync.Once
}

type SessionFactory struct {
	cfg         *config.IMAPConfig
	credentials interfaces.CredentialProvider
	limiter     *HostLimiter
	log         logger.Logger
}

func NewSessionFactory(cfg *config.IMAPConfig, credentials interfaces.CredentialProvider, limiter *HostLimiter, log logger.Logger) *SessionFactory {
	return &SessionFactory{
		cfg:         cfg,
		credentials: credentials,
		limiter:     limiter,
		log:         log,
	}
}

// Dial opens, secures and authenticates a new session. The host limiter gate
// is taken before the TCP dial and held until Logout.
func (f *SessionFactory) Dial(ctx context.Context, account *models.Account) (interfaces.IMAPSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SessionFactory.Dial")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("server", account.ImapServer)

	if err := f.limiter.Acquire(ctx, account.ImapServer); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	session, err := f.dial(ctx, account)
	if err != nil {
		f.limiter.Release(account.ImapServer)
		tracing.TraceErr(span, err)
		return nil, err
	}

	host := account.ImapServer
	session.release = func() { f.limiter.Release(host) }
	return session, nil
}

func (f *SessionFactory) dial(ctx context.Context, account *models.Account) (*Session, error) {
	serverAddr := fmt.Sprintf("%s:%d", account.ImapServer, account.ImapPort)
	dialer := &net.Dialer{
		Timeout:   f.cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error
	switch account.ImapSecurity {
	case enum.EmailSecurityTLS:
		c, err = client.DialWithDialerTLS(dialer, serverAddr, &tls.Config{ServerName: account.ImapServer})
	case enum.EmailSecurityStartTLS:
		c, err = client.DialWithDialer(dialer, serverAddr)
		if err == nil {
			err = c.StartTLS(&tls.Config{ServerName: account.ImapServer})
		}
	default:
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		if er.IsCapacityError(err) {
			return nil, er.ErrTooManyConnections
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}

	caps, err := c.Capability()
	if err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to get capabilities: %w", err)
	}

	password, err := f.credentials.Resolve(ctx, account)
	if err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	c.Timeout = f.cfg.CommandTimeout
	if err := c.Login(account.ImapUsername, password); err != nil {
		c.Logout()
		if er.IsCapacityError(err) {
			return nil, er.ErrTooManyConnections
		}
		if er.IsAuthError(err) || !er.IsConnectionError(err) {
			return nil, fmt.Errorf("%w: %s", er.ErrAuthenticationFailed, err.Error())
		}
		return nil, fmt.Errorf("failed to login as %s: %w", account.ImapUsername, err)
	}
	c.Timeout = 0

	f.log.Debugf("[%s] connected to %s, capabilities: %v", account.ID, serverAddr, caps)

	return &Session{
		cl:         c,
		caps:       caps,
		cmdTimeout: f.cfg.CommandTimeout,
		accountID:  account.ID,
		host:       account.ImapServer,
		bornAt:     time.Now(),
	}, nil
}

func (s *Session) Supports(capability string) bool {
	return s.caps[capability]
}

func (s *Session) Broken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *Session) Age() time.Duration {
	return time.Since(s.bornAt)
}

// run executes one command with the timeout applied, and marks the session
// broken on connectivity failures so the pool never hands it out again.
func (s *Session) run(f func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken {
		return er.ErrSessionBroken
	}

	s.cl.Timeout = s.cmdTimeout
	err := f()
	s.cl.Timeout = 0

	if err != nil && er.IsConnectionError(err) {
		s.broken = true
	}
	return err
}

func (s *Session) Select(ctx context.Context, folder string) (*interfaces.FolderStatus, error) {
	var status *interfaces.FolderStatus
	err := s.run(func() error {
		mbox, err := s.cl.Select(folder, true)
		if err != nil {
			if er.IsFolderGone(err) {
				return er.ErrFolderNotFound
			}
			return err
		}
		status = &interfaces.FolderStatus{
			Name:        folder,
			UIDValidity: mbox.UidValidity,
			UIDNext:     mbox.UidNext,
			Exists:      mbox.Messages,
		}
		if s.caps[CapabilityCondStore] {
			modSeq, err := s.statusHighestModSeq(folder)
			if err != nil {
				return err
			}
			status.HighestModSeq = modSeq
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (s *Session) ListFolders(ctx context.Context) ([]string, error) {
	var names []string
	err := s.run(func() error {
		ch := make(chan *goimap.MailboxInfo, 50)
		done := make(chan error, 1)
		go func() {
			done <- s.cl.List("", "*", ch)
		}()

		for mb := range ch {
			selectable := true
			for _, attr := range mb.Attributes {
				if attr == goimap.NoSelectAttr {
					selectable = false
					break
				}
			}
			if selectable {
				names = append(names, mb.Name)
			}
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Session) UIDSearch(ctx context.Context, from, to uint32) ([]uint32, error) {
	var uids []uint32
	err := s.run(func() error {
		set := new(goimap.SeqSet)
		set.AddRange(from, to) // to == 0 encodes "*"
		criteria := goimap.NewSearchCriteria()
		criteria.Uid = set

		found, err := s.cl.UidSearch(criteria)
		if err != nil {
			return err
		}
		uids = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

func (s *Session) Noop(ctx context.Context) error {
	return s.run(func() error {
		return s.cl.Noop()
	})
}

func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cl.Timeout = 5 * time.Second
	err := s.cl.Logout()
	s.broken = true

	if s.release != nil {
		s.releaseMu.Do(s.release)
	}
	return err
}
