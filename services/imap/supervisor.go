package imap

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	er "github.com/mailwatchhq/mailwatch/internal/errors"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/tracing"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

// Supervisor runs the sync of one account: discovers folders, spawns one
// FolderUnit per synced folder, and quiesces everything when credentials go
// bad. A worker holds one supervisor per assigned account.
type Supervisor struct {
	account  *models.Account
	pool     interfaces.SessionPool
	accounts interfaces.AccountRepository
	folders  interfaces.FolderRepository
	messages interfaces.MessageRepository
	events   interfaces.EventSink
	syncCfg  *config.SyncConfig
	imapCfg  *config.IMAPConfig
	log      logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(
	account *models.Account,
	pool interfaces.SessionPool,
	accounts interfaces.AccountRepository,
	folders interfaces.FolderRepository,
	messages interfaces.MessageRepository,
	events interfaces.EventSink,
	syncCfg *config.SyncConfig,
	imapCfg *config.IMAPConfig,
	log logger.Logger,
) *Supervisor {
	return &Supervisor{
		account:  account,
		pool:     pool,
		accounts: accounts,
		folders:  folders,
		messages: messages,
		events:   events,
		syncCfg:  syncCfg,
		imapCfg:  imapCfg,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the supervisor goroutine. Stop blocks until all folder
// units have wound down.
func (s *Supervisor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) run(ctx context.Context) {
	folders, ok := s.discoverWithRetry(ctx)
	if !ok {
		return
	}
	for len(folders) == 0 {
		s.log.Warnf("[%s] no syncable folders discovered, re-listing later", s.account.ID)
		if !sleepCtx(ctx, s.syncCfg.RetryBackoffMax) {
			return
		}
		if folders, ok = s.discoverWithRetry(ctx); !ok {
			return
		}
	}

	// account.connected fires once per account lifetime: the first sync that
	// ever succeeded. Rebalances and restarts find last_sync already stamped.
	announce := s.account.LastSync == nil
	if err := s.accounts.MarkSynced(ctx, s.account.ID); err != nil {
		s.log.Errorf("[%s] failed to stamp last sync: %v", s.account.ID, err)
	} else {
		now := utils.Now()
		s.account.LastSync = &now
	}
	if announce {
		if err := s.events.AccountConnected(ctx, s.account); err != nil {
			s.log.Errorf("[%s] failed to emit account.connected: %v", s.account.ID, err)
		}
	}

	authFailed := make(chan error, len(folders))
	var wg sync.WaitGroup
	for i, folder := range folders {
		unit := NewFolderUnit(s.account, folder, s.pool, s.folders, s.messages, s.events, s.syncCfg, s.imapCfg, s.log)

		// Stagger starts so a worker restart does not stampede the provider.
		if i > 0 {
			if !sleepCtx(ctx, s.syncCfg.StartStagger) {
				break
			}
		}

		wg.Add(1)
		go func(unit *FolderUnit) {
			defer wg.Done()
			if err := unit.Run(ctx); err != nil && er.IsAuthError(err) {
				select {
				case authFailed <- err:
				default:
				}
			}
		}(unit)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case err := <-authFailed:
		s.quiesceAuthFailure(ctx, err)
		s.cancel()
		<-finished
	case <-finished:
	case <-ctx.Done():
		<-finished
	}

	s.pool.CloseAccount(s.account.ID)
}

// discoverWithRetry keeps folder discovery alive through transient failures
// so a flaky dial cannot silently stop an assigned account; the worker holds
// the assignment the whole time. Auth errors quiesce the account instead.
func (s *Supervisor) discoverWithRetry(ctx context.Context) ([]*models.Folder, bool) {
	streak := 0
	for ctx.Err() == nil {
		span, spanCtx := tracing.StartTracerSpan(ctx, "Supervisor.discoverFolders")
		tracing.SetDefaultServiceSpanTags(span)
		tracing.TagAccount(span, s.account.ID)

		folders, err := s.discoverFolders(spanCtx)
		if err == nil {
			span.Finish()
			return folders, true
		}
		tracing.TraceErr(span, err)
		span.Finish()

		if er.IsAuthError(err) {
			s.quiesceAuthFailure(ctx, err)
			return nil, false
		}
		streak++
		s.log.Warnf("[%s] folder discovery failed (streak %d): %v", s.account.ID, streak, err)
		if !sleepCtx(ctx, backoffWithJitter(s.syncCfg.RetryBackoffBase, s.syncCfg.RetryBackoffMax, streak)) {
			return nil, false
		}
	}
	return nil, false
}

// discoverFolders lists the server folders and reconciles them against the
// local rows. Folders no longer on the server are marked orphaned; the
// remainder is capped to the configured maximum, INBOX always first.
func (s *Supervisor) discoverFolders(ctx context.Context) ([]*models.Folder, error) {
	session, err := s.pool.Borrow(ctx, s.account)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(s.account.ID, session)

	names, err := session.ListFolders(ctx)
	if err != nil {
		s.pool.Discard(s.account.ID, session)
		return nil, err
	}
	sortFolderNames(names)
	if max := s.syncCfg.MaxFoldersPerAccount; max > 0 && len(names) > max {
		s.log.Warnf("[%s] server reports %d folders, syncing the first %d", s.account.ID, len(names), max)
		names = names[:max]
	}

	onServer := make(map[string]struct{}, len(names))
	var folders []*models.Folder
	for _, name := range names {
		onServer[name] = struct{}{}
		folder, err := s.folders.GetOrCreate(ctx, s.account.ID, name)
		if err != nil {
			return nil, err
		}
		if folder.SyncState == enum.FolderOrphaned {
			// Reappeared after an orphaning; start over.
			folder.SyncState = enum.FolderNew
		}
		folders = append(folders, folder)
	}

	known, err := s.folders.GetByAccount(ctx, s.account.ID)
	if err != nil {
		return nil, err
	}
	for _, folder := range known {
		if _, ok := onServer[folder.Name]; ok {
			continue
		}
		if folder.SyncState == enum.FolderOrphaned {
			continue
		}
		folder.SyncState = enum.FolderOrphaned
		folder.LastError = "folder no longer exists on server"
		if err := s.folders.Save(ctx, folder); err != nil {
			return nil, err
		}
	}

	return folders, nil
}

// quiesceAuthFailure moves the account to auth_error and emits the
// credential alert exactly once. The coordinator stops assigning the account
// until credentials are fixed and the status goes back to active.
func (s *Supervisor) quiesceAuthFailure(ctx context.Context, cause error) {
	s.log.Warnf("[%s] authentication failed, quiescing account: %v", s.account.ID, cause)

	s.account.Status = enum.AccountAuthError
	s.account.LastError = cause.Error()
	if err := s.accounts.UpdateStatus(ctx, s.account.ID, enum.AccountAuthError, cause.Error()); err != nil {
		s.log.Errorf("[%s] failed to update account status: %v", s.account.ID, err)
	}
	if err := s.events.AccountInvalidCredentials(ctx, s.account); err != nil {
		s.log.Errorf("[%s] failed to emit account.invalid_credentials: %v", s.account.ID, err)
	}
	s.pool.CloseAccount(s.account.ID)
}

// sortFolderNames orders INBOX first, then lexicographically. The cap on
// synced folders must never drop INBOX.
func sortFolderNames(names []string) {
	sort.Slice(names, func(i, j int) bool {
		iInbox := strings.EqualFold(names[i], "INBOX")
		jInbox := strings.EqualFold(names[j], "INBOX")
		if iInbox != jInbox {
			return iInbox
		}
		return names[i] < names[j]
	})
}
