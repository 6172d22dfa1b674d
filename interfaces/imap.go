package interfaces

import (
	"context"
	"time"

	"github.com/mailwatchhq/mailwatch/internal/models"
)

// FolderStatus is the server state reported by SELECT.
type FolderStatus struct {
	Name          string
	UIDValidity   uint32
	UIDNext       uint32
	Exists        uint32
	HighestModSeq uint64 // 0 when the server lacks CONDSTORE
}

// MessageMeta is the header metadata fetched for one message. Bodies are
// never pulled.
type MessageMeta struct {
	UID          uint32
	InternalDate time.Time
	Subject      string
	MessageID    string
	InReplyTo    string
	References   string
	From         []string
	To           []string
	Cc           []string
	Bcc          []string
	Size         uint32
	Flags        []string
}

// Participants returns the union of all address headers.
func (m *MessageMeta) Participants() []string {
	out := make([]string, 0, len(m.From)+len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.From...)
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// IdleEvent is the outcome of one IDLE wait.
type IdleEvent int

const (
	IdleTimeout IdleEvent = iota // renewal ceiling reached, no change
	IdleChange                   // server pushed a mailbox change
	IdleDropped                  // connection lost while idling
)

// IMAPSession is a single authenticated IMAP dialogue. Commands are
// serialized on the session; callers gate extension use on Supports.
type IMAPSession interface {
	Select(ctx context.Context, folder string) (*FolderStatus, error)
	ListFolders(ctx context.Context) ([]string, error)
	// UIDSearch returns UIDs in [from, to]; to == 0 means "*".
	UIDSearch(ctx context.Context, from, to uint32) ([]uint32, error)
	// SearchChangedSince requires CONDSTORE.
	SearchChangedSince(ctx context.Context, modSeq uint64) ([]uint32, error)
	FetchMeta(ctx context.Context, uids []uint32) ([]*MessageMeta, error)
	Idle(ctx context.Context, timeout time.Duration) (IdleEvent, error)
	Noop(ctx context.Context) error
	Supports(capability string) bool
	// Broken reports whether the session failed a command with a network
	// error and must not be reused.
	Broken() bool
	Logout() error
}

// SessionFactory dials and authenticates new sessions.
type SessionFactory interface {
	Dial(ctx context.Context, account *models.Account) (IMAPSession, error)
}

// SessionPool multiplexes borrowers onto a bounded set of sessions per
// account.
type SessionPool interface {
	Borrow(ctx context.Context, account *models.Account) (IMAPSession, error)
	// Release returns a session for reuse; stale or broken sessions are
	// discarded instead of being handed back out.
	Release(accountID string, session IMAPSession)
	// Discard drops a session that failed mid-dialogue.
	Discard(accountID string, session IMAPSession)
	// CloseAccount tears down every pooled session for the account.
	CloseAccount(accountID string)
	Close()
}

// CredentialProvider resolves the opaque credential reference stored on an
// account into the secret used for LOGIN.
type CredentialProvider interface {
	Resolve(ctx context.Context, account *models.Account) (string, error)
}
