package imap

import (
	"context"
	"math/rand"
	"time"

	"gorm.io/gorm"

	"github.com/mailwatchhq/mailwatch/config"
	"github.com/mailwatchhq/mailwatch/interfaces"
	"github.com/mailwatchhq/mailwatch/internal/enum"
	er "github.com/mailwatchhq/mailwatch/internal/errors"
	"github.com/mailwatchhq/mailwatch/internal/logger"
	"github.com/mailwatchhq/mailwatch/internal/models"
	"github.com/mailwatchhq/mailwatch/internal/utils"
)

// failStreakCeiling moves a folder to the failed state. Failed folders keep
// retrying at the maximum backoff instead of being abandoned.
const failStreakCeiling = 5

// inventoryScanInterval bounds how long an expunge can hide behind a
// balancing arrival on CONDSTORE servers before a full UID diff catches it.
const inventoryScanInterval = 15 * time.Minute

// FolderUnit owns the sync lifecycle of one folder: new -> backfilling ->
// live, with orphaned and failed as the off-ramps. One goroutine runs one
// unit; all server dialogue goes through sessions borrowed per cycle.
type FolderUnit struct {
	account  *models.Account
	folder   *models.Folder
	pool     interfaces.SessionPool
	folders  interfaces.FolderRepository
	messages interfaces.MessageRepository
	events   interfaces.EventSink
	syncCfg  *config.SyncConfig
	imapCfg  *config.IMAPConfig
	log      logger.Logger

	lastInventoryScan time.Time
}

func NewFolderUnit(
	account *models.Account,
	folder *models.Folder,
	pool interfaces.SessionPool,
	folders interfaces.FolderRepository,
	messages interfaces.MessageRepository,
	events interfaces.EventSink,
	syncCfg *config.SyncConfig,
	imapCfg *config.IMAPConfig,
	log logger.Logger,
) *FolderUnit {
	return &FolderUnit{
		account:  account,
		folder:   folder,
		pool:     pool,
		folders:  folders,
		messages: messages,
		events:   events,
		syncCfg:  syncCfg,
		imapCfg:  imapCfg,
		log:      log,
	}
}

// Run cycles the unit until the context ends or the folder leaves the
// syncable states. Errors back off exponentially with full jitter; auth
// errors are returned to the supervisor, which quiesces the whole account.
func (u *FolderUnit) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		err := u.cycle(ctx)
		if err == nil {
			if u.folder.FailStreak != 0 {
				u.folder.FailStreak = 0
				u.folder.LastError = ""
				u.saveFolder(ctx)
			}
			continue
		}
		if er.IsAuthError(err) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		if err == er.ErrFolderNotFound {
			gone, verr := u.folderGone(ctx)
			if verr == nil && gone {
				u.markOrphaned(ctx)
				return nil
			}
			if verr != nil {
				err = verr
			}
			// Still in LIST: a rename or a transient NONEXISTENT. Retry.
		}

		u.folder.FailStreak++
		u.folder.LastError = err.Error()
		if u.folder.FailStreak >= failStreakCeiling && u.folder.SyncState == enum.FolderLive {
			u.folder.SyncState = enum.FolderFailed
		}
		u.saveFolder(ctx)
		u.log.Warnf("[%s][%s] sync cycle failed (streak %d): %v", u.account.ID, u.folder.Name, u.folder.FailStreak, err)

		if !sleepCtx(ctx, u.retryBackoff(u.folder.FailStreak)) {
			return nil
		}
	}
	return nil
}

// folderGone re-lists the hierarchy before orphaning: a renamed folder fails
// SELECT under its old name but that name is simply absent from LIST, and a
// transient NONEXISTENT must not orphan a live folder.
func (u *FolderUnit) folderGone(ctx context.Context) (bool, error) {
	session, err := u.pool.Borrow(ctx, u.account)
	if err != nil {
		return false, err
	}
	names, err := session.ListFolders(ctx)
	if err != nil {
		u.pool.Discard(u.account.ID, session)
		return false, err
	}
	u.pool.Release(u.account.ID, session)

	for _, name := range names {
		if name == u.folder.Name {
			return false, nil
		}
	}
	return true, nil
}

// cycle borrows a session, reconciles once, then waits for the next change
// via IDLE or a poll sleep.
func (u *FolderUnit) cycle(ctx context.Context) error {
	session, err := u.pool.Borrow(ctx, u.account)
	if err != nil {
		return err
	}

	if err := u.reconcileWith(ctx, session); err != nil {
		u.pool.Discard(u.account.ID, session)
		return err
	}

	// Recovered folders go back to live on a clean pass.
	if u.folder.SyncState == enum.FolderFailed {
		u.folder.SyncState = enum.FolderLive
		u.saveFolder(ctx)
	}

	if u.folder.SyncState == enum.FolderLive && session.Supports(CapabilityIdle) {
		event, err := session.Idle(ctx, u.imapCfg.IdleRenewal)
		if ctx.Err() != nil {
			// Shutdown, not a dropped connection; the session is still good.
			u.pool.Release(u.account.ID, session)
			return nil
		}
		if err != nil || event == interfaces.IdleDropped {
			u.pool.Discard(u.account.ID, session)
			return nil // next cycle reconnects immediately
		}
		u.pool.Release(u.account.ID, session)
		return nil
	}

	u.pool.Release(u.account.ID, session)
	if u.folder.SyncState == enum.FolderLive {
		sleepCtx(ctx, u.imapCfg.PollInterval)
	}
	return nil
}

func (u *FolderUnit) reconcileWith(ctx context.Context, session interfaces.IMAPSession) error {
	status, err := session.Select(ctx, u.folder.Name)
	if err != nil {
		return err
	}
	return u.reconcile(ctx, session, status)
}

// reconcile runs one full pass of the state machine against a SELECTed
// session.
func (u *FolderUnit) reconcile(ctx context.Context, session interfaces.IMAPSession, status *interfaces.FolderStatus) error {
	f := u.folder

	// A UIDVALIDITY change invalidates every stored UID. The local index is
	// purged and the folder backfills from scratch. No per-message events
	// are emitted for the purge.
	if f.UIDValidity != 0 && f.UIDValidity != status.UIDValidity {
		u.log.Warnf("[%s][%s] uidvalidity changed %d -> %d, rebuilding index", u.account.ID, f.Name, f.UIDValidity, status.UIDValidity)
		err := u.messages.PurgeFolder(ctx, f.AccountID, f.ID, func(tx *gorm.DB) error {
			f.UIDValidity = status.UIDValidity
			f.UIDNext = 0
			f.HighestModSeq = nil
			f.LastUID = 0
			f.BackfillCursor = 0
			f.LastExists = 0
			f.SyncState = enum.FolderBackfilling
			if err := u.folders.SaveTx(tx, f); err != nil {
				return err
			}
			return u.events.FolderUpdatedTx(tx, u.account, f, interfaces.FolderReasonUIDValidityChange)
		})
		if err != nil {
			return err
		}
	}

	if f.SyncState == "" || f.SyncState == enum.FolderNew {
		f.UIDValidity = status.UIDValidity
		f.SyncState = enum.FolderBackfilling
		if err := u.folders.Save(ctx, f); err != nil {
			return err
		}
	}

	if f.SyncState == enum.FolderBackfilling {
		if err := u.backfill(ctx, session, status); err != nil {
			return err
		}
	}

	if f.SyncState == enum.FolderLive || f.SyncState == enum.FolderFailed {
		return u.delta(ctx, session, status)
	}
	return nil
}

// backfill walks the mailbox newest-first in UID batches, resuming from the
// cursor after interruptions. New mail keeps arriving while this runs; it is
// picked up by delta once the folder goes live because LastUID tracks the
// highest indexed UID from the first batch on.
func (u *FolderUnit) backfill(ctx context.Context, session interfaces.IMAPSession, status *interfaces.FolderStatus) error {
	f := u.folder

	all, err := session.UIDSearch(ctx, 1, 0)
	if err != nil {
		return err
	}

	// Horizon: only the most recent N messages when a limit is set.
	floor := uint32(1)
	limit := u.account.BackfillLimit
	if limit == 0 {
		limit = u.syncCfg.BackfillLimit
	}
	if limit > 0 && len(all) > limit {
		floor = all[len(all)-limit]
	}

	for ctx.Err() == nil {
		batch := nextBackfillBatch(all, f.BackfillCursor, floor, u.syncCfg.BatchSize)
		if len(batch) == 0 {
			break
		}

		metas, err := session.FetchMeta(ctx, batch)
		if err != nil {
			return err
		}
		entries := u.buildEntries(metas)

		lowest := batch[0]
		highest := batch[len(batch)-1]
		_, err = u.messages.IndexBatch(ctx, entries, func(tx *gorm.DB, inserted []*models.MessageIndexEntry) error {
			if err := u.events.MessagesCreatedTx(tx, u.account, f, inserted); err != nil {
				return err
			}
			f.BackfillCursor = lowest
			if highest > f.LastUID {
				f.LastUID = highest
			}
			return u.folders.SaveTx(tx, f)
		})
		if err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	// Caught up: anchor and go live.
	f.SyncState = enum.FolderLive
	f.UIDNext = status.UIDNext
	f.LastExists = status.Exists
	if session.Supports(CapabilityCondStore) && status.HighestModSeq > 0 {
		modSeq := status.HighestModSeq
		f.HighestModSeq = &modSeq
	}
	now := utils.Now()
	f.LastPoll = &now
	if err := u.folders.Save(ctx, f); err != nil {
		return err
	}
	return u.events.FolderUpdatedTx(nil, u.account, f, interfaces.FolderReasonBackfillComplete)
}

// nextBackfillBatch picks the next descending window: the highest UIDs not
// yet fetched, bounded below by the horizon floor. Returned ascending.
func nextBackfillBatch(all []uint32, cursor, floor uint32, size int) []uint32 {
	ceiling := cursor // fetch strictly below the cursor; 0 = everything
	var window []uint32
	for _, uid := range all {
		if uid < floor {
			continue
		}
		if ceiling != 0 && uid >= ceiling {
			break
		}
		window = append(window, uid)
	}
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window
}

// delta reconciles a live folder: new arrivals, flag changes, expunges.
func (u *FolderUnit) delta(ctx context.Context, session interfaces.IMAPSession, status *interfaces.FolderStatus) error {
	f := u.folder
	indexed := uint32(0)

	// New arrivals above the high-water mark.
	if status.UIDNext > f.UIDNext {
		found, err := session.UIDSearch(ctx, f.LastUID+1, 0)
		if err != nil {
			return err
		}
		// Servers answer "uid:*" with the last message even when uid is past
		// the end; keep strictly new UIDs only.
		var newUIDs []uint32
		for _, uid := range found {
			if uid > f.LastUID {
				newUIDs = append(newUIDs, uid)
			}
		}
		for start := 0; start < len(newUIDs); start += u.syncCfg.BatchSize {
			end := start + u.syncCfg.BatchSize
			if end > len(newUIDs) {
				end = len(newUIDs)
			}
			metas, err := session.FetchMeta(ctx, newUIDs[start:end])
			if err != nil {
				return err
			}
			entries := u.buildEntries(metas)
			highest := newUIDs[end-1]
			inserted, err := u.messages.IndexBatch(ctx, entries, func(tx *gorm.DB, inserted []*models.MessageIndexEntry) error {
				if err := u.events.MessagesCreatedTx(tx, u.account, f, inserted); err != nil {
					return err
				}
				if highest > f.LastUID {
					f.LastUID = highest
				}
				return u.folders.SaveTx(tx, f)
			})
			if err != nil {
				return err
			}
			indexed += uint32(len(inserted))
		}
	}

	// Flag changes.
	if session.Supports(CapabilityCondStore) && f.HighestModSeq != nil {
		if status.HighestModSeq > *f.HighestModSeq {
			if err := u.syncChangedFlags(ctx, session, *f.HighestModSeq); err != nil {
				return err
			}
		}
	} else {
		if err := u.flagParityScan(ctx, session); err != nil {
			return err
		}
	}

	// Expunges: diff the UID inventories when the server count disagrees with
	// the local one. An expunge balanced by an arrival keeps the counts
	// equal, so folders without CONDSTORE diff on every pass and the rest run
	// a periodic full pass.
	if status.Exists != f.LastExists+indexed ||
		!session.Supports(CapabilityCondStore) ||
		time.Since(u.lastInventoryScan) >= inventoryScanInterval {
		if err := u.reconcileExpunges(ctx, session); err != nil {
			return err
		}
		u.lastInventoryScan = time.Now()
	}

	f.UIDNext = status.UIDNext
	f.LastExists = status.Exists
	if session.Supports(CapabilityCondStore) && status.HighestModSeq > 0 {
		modSeq := status.HighestModSeq
		f.HighestModSeq = &modSeq
	}
	now := utils.Now()
	f.LastPoll = &now
	return u.folders.Save(ctx, f)
}

// syncChangedFlags diffs flags for messages the server reports as changed
// since the stored mod-sequence. Flag-only changes emit message.updated.
func (u *FolderUnit) syncChangedFlags(ctx context.Context, session interfaces.IMAPSession, sinceModSeq uint64) error {
	changed, err := session.SearchChangedSince(ctx, sinceModSeq)
	if err != nil {
		return err
	}

	// New arrivals also match MODSEQ; only already indexed UIDs matter here.
	var known []uint32
	for _, uid := range changed {
		if uid <= u.folder.LastUID {
			known = append(known, uid)
		}
	}
	return u.applyFlagDiffs(ctx, session, known)
}

// flagParityScan is the CONDSTORE-less fallback: fetch flags for the whole
// live window and diff. Costs one FETCH per batch, which is why CONDSTORE is
// preferred when the server has it.
func (u *FolderUnit) flagParityScan(ctx context.Context, session interfaces.IMAPSession) error {
	local, err := u.messages.ListUIDs(ctx, u.folder.AccountID, u.folder.ID, 1, u.folder.LastUID)
	if err != nil {
		return err
	}
	return u.applyFlagDiffs(ctx, session, local)
}

func (u *FolderUnit) applyFlagDiffs(ctx context.Context, session interfaces.IMAPSession, uids []uint32) error {
	f := u.folder
	for start := 0; start < len(uids); start += u.syncCfg.BatchSize {
		end := start + u.syncCfg.BatchSize
		if end > len(uids) {
			end = len(uids)
		}
		metas, err := session.FetchMeta(ctx, uids[start:end])
		if err != nil {
			return err
		}

		existing, err := u.messages.GetByUIDs(ctx, f.AccountID, f.ID, uids[start:end])
		if err != nil {
			return err
		}
		byUID := make(map[uint32]*models.MessageIndexEntry, len(existing))
		for _, entry := range existing {
			byUID[entry.UID] = entry
		}

		for _, meta := range metas {
			entry, ok := byUID[meta.UID]
			if !ok || entry.Expunged {
				continue
			}
			if flagsEqual(entry.Flags, meta.Flags) {
				continue
			}
			flags := meta.Flags
			err := u.messages.UpdateFlags(ctx, entry, flags, func(tx *gorm.DB) error {
				return u.events.MessageUpdatedTx(tx, u.account, f, entry, flags)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileExpunges tombstones local UIDs the server no longer reports.
func (u *FolderUnit) reconcileExpunges(ctx context.Context, session interfaces.IMAPSession) error {
	f := u.folder

	server, err := session.UIDSearch(ctx, 1, 0)
	if err != nil {
		return err
	}
	local, err := u.messages.ListUIDs(ctx, f.AccountID, f.ID, 1, 0)
	if err != nil {
		return err
	}

	onServer := make(map[uint32]struct{}, len(server))
	for _, uid := range server {
		onServer[uid] = struct{}{}
	}
	var gone []uint32
	for _, uid := range local {
		if _, ok := onServer[uid]; !ok {
			gone = append(gone, uid)
		}
	}
	if len(gone) == 0 {
		return nil
	}

	entries, err := u.messages.GetByUIDs(ctx, f.AccountID, f.ID, gone)
	if err != nil {
		return err
	}
	return u.messages.MarkExpunged(ctx, f.AccountID, f.ID, gone, func(tx *gorm.DB) error {
		return u.events.MessagesDeletedTx(tx, u.account, f, entries)
	})
}

func (u *FolderUnit) buildEntries(metas []*interfaces.MessageMeta) []*models.MessageIndexEntry {
	f := u.folder
	entries := make([]*models.MessageIndexEntry, 0, len(metas))
	for _, meta := range metas {
		entries = append(entries, &models.MessageIndexEntry{
			AccountID:    f.AccountID,
			FolderID:     f.ID,
			UID:          meta.UID,
			InternalDate: meta.InternalDate,
			Subject:      meta.Subject,
			FromAddrs:    meta.From,
			ToAddrs:      meta.To,
			CcAddrs:      meta.Cc,
			BccAddrs:     meta.Bcc,
			MessageID:    utils.NormalizeMessageID(meta.MessageID),
			InReplyTo:    utils.NormalizeMessageID(meta.InReplyTo),
			References:   meta.References,
			Size:         meta.Size,
			Flags:        meta.Flags,
			ThreadID:     utils.ComputeThreadID(meta.MessageID, meta.InReplyTo, meta.References, meta.Subject, meta.Participants()),
			FirstSeen:    utils.Now(),
		})
	}
	return entries
}

func (u *FolderUnit) markOrphaned(ctx context.Context) {
	u.folder.SyncState = enum.FolderOrphaned
	u.folder.LastError = "folder no longer exists on server"
	u.saveFolder(ctx)
	if err := u.events.FolderUpdatedTx(nil, u.account, u.folder, interfaces.FolderReasonDeleted); err != nil {
		u.log.Errorf("[%s][%s] failed to emit folder.updated: %v", u.account.ID, u.folder.Name, err)
	}
	u.log.Infof("[%s][%s] folder orphaned", u.account.ID, u.folder.Name)
}

func (u *FolderUnit) saveFolder(ctx context.Context) {
	if err := u.folders.Save(ctx, u.folder); err != nil {
		u.log.Errorf("[%s][%s] failed to persist folder state: %v", u.account.ID, u.folder.Name, err)
	}
}

func (u *FolderUnit) retryBackoff(streak int) time.Duration {
	return backoffWithJitter(u.syncCfg.RetryBackoffBase, u.syncCfg.RetryBackoffMax, streak)
}

// backoffWithJitter is exponential with full jitter: a random delay up to
// base*2^streak, capped.
func backoffWithJitter(base, max time.Duration, streak int) time.Duration {
	delay := base
	for i := 1; i < streak; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	return time.Duration(rand.Int63n(int64(delay)) + 1)
}

func flagsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[f] = struct{}{}
	}
	for _, f := range b {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
