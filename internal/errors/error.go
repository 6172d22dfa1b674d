package errors

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// account errors
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountNotActive = errors.New("account is not active")
	ErrStaleGeneration  = errors.New("account lease generation is stale")

	// session errors
	ErrAuthenticationFailed = errors.New("imap authentication failed")
	ErrSessionBroken        = errors.New("imap session is broken")
	ErrFolderNotFound       = errors.New("folder does not exist on server")
	ErrTooManyConnections   = errors.New("server refused connection: too many connections")
	ErrConnectionTimeout    = errors.New("connection timeout")

	// sync errors
	ErrUIDValidityChanged = errors.New("folder uidvalidity changed")

	// pool errors
	ErrPoolClosed = errors.New("session pool is closed")
)

// Kind is the error taxonomy driving retry and escalation policy.
type Kind string

const (
	KindTransient        Kind = "transient"         // network reset, timeout: backoff restart
	KindAuth             Kind = "auth"              // login failed: account -> auth_error
	KindProtocol         Kind = "protocol"          // malformed server response: drop session
	KindCapacity         Kind = "capacity"          // too-many-connections: back off host
	KindDatabase         Kind = "database"          // commit conflict: bounded retry
	KindStaleLease       Kind = "stale_lease"       // coordinator reassigned: yield
	KindWebhookPermanent Kind = "webhook_permanent" // 4xx other than 408/429
	KindWebhookRetryable Kind = "webhook_retryable" // 5xx, 408, 429, network
)

// Classify maps an error from the IMAP path onto the taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsAuthError(err):
		return KindAuth
	case errors.Is(err, ErrStaleGeneration):
		return KindStaleLease
	case IsCapacityError(err):
		return KindCapacity
	case IsConnectionError(err):
		return KindTransient
	default:
		return KindProtocol
	}
}

// IsConnectionError checks if an error is related to connectivity.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionTimeout) || errors.Is(err, ErrSessionBroken) {
		return true
	}

	errorMsg := err.Error()
	return strings.Contains(errorMsg, "connection closed") ||
		strings.Contains(errorMsg, "connection refused") ||
		strings.Contains(errorMsg, "i/o timeout") ||
		strings.Contains(errorMsg, "EOF") ||
		strings.Contains(errorMsg, "broken pipe") ||
		strings.Contains(errorMsg, "connection reset")
}

// IsAuthError matches server LOGIN rejections that do not surface as a
// typed error from the client library.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		return true
	}

	errorMsg := strings.ToLower(err.Error())
	return strings.Contains(errorMsg, "authentication failed") ||
		strings.Contains(errorMsg, "invalid credentials") ||
		strings.Contains(errorMsg, "login failed") ||
		strings.Contains(errorMsg, "authenticationfailed")
}

// IsCapacityError matches provider-specific too-many-connections rejections.
func IsCapacityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTooManyConnections) {
		return true
	}

	errorMsg := strings.ToLower(err.Error())
	return strings.Contains(errorMsg, "too many simultaneous connections") ||
		strings.Contains(errorMsg, "too many connections") ||
		strings.Contains(errorMsg, "maximum number of connections")
}

// IsFolderGone matches SELECT failures for deleted or renamed mailboxes.
func IsFolderGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFolderNotFound) {
		return true
	}

	errorMsg := strings.ToLower(err.Error())
	return strings.Contains(errorMsg, "nonexistent") ||
		strings.Contains(errorMsg, "does not exist") ||
		strings.Contains(errorMsg, "no such mailbox") ||
		strings.Contains(errorMsg, "unknown mailbox")
}
