// Package mail implements the protocol-level side of fetching: a uniform
// Fetcher contract over IMAP, POP3, JMAP and Exchange, a safe-command
// wrapper that classifies failures as account- or mailbox-scoped, and a
// criterion compiler that turns a model.FetchingCriterion into each
// protocol's native query shape.
package mail

import (
	"context"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// RemoteMessage is one message as handed back by a Fetcher, before MIME
// parsing. UID is protocol-native (IMAP UID, POP3 ordinal, JMAP/Exchange
// server id encoded as a string) and is opaque outside its own fetcher.
type RemoteMessage struct {
	UID  string
	Raw  []byte // complete RFC 5322 bytes
	Size int64
}

// MailboxInfo describes one remote mailbox as returned by ListMailboxes.
type MailboxInfo struct {
	Name     string
	Type     model.MailboxKind // normalized from server-supplied attributes; model.MailboxKindCustom when unrecognized
	Messages int
	Unseen   int
}

// Fetcher is the contract every protocol client implements. All methods
// are safe for a single goroutine at a time; callers serialize access
// the way the scheduler does, one routine cycle at a time per mailbox.
type Fetcher interface {
	// Connect establishes and authenticates the underlying connection.
	// Failures are always *AccountError.
	Connect(ctx context.Context) error

	// Test performs a lightweight round trip (NOOP-equivalent) to verify
	// the account is still reachable without fetching anything.
	Test(ctx context.Context) error

	// ListMailboxes enumerates the account's selectable mailboxes.
	ListMailboxes(ctx context.Context) ([]MailboxInfo, error)

	// Fetch retrieves messages from the named mailbox matching criterion,
	// passing arg (the routine's CriterionArg) when the criterion needs
	// one — e.g. the text for SUBJECT/FROM, the byte count for
	// LARGER/SMALLER, the date for SENTSINCE. Returns messages
	// oldest-first.
	Fetch(ctx context.Context, mailbox string, criterion model.FetchingCriterion, arg string) ([]RemoteMessage, error)

	// Restore re-delivers a previously archived message into mailbox
	// (IMAP APPEND or protocol equivalent), used by the restore operation.
	Restore(ctx context.Context, mailbox string, raw []byte) error

	// Close tears down the connection. Errors are logged, never returned
	// to the caller — a close failure must not unwind a completed fetch.
	Close() error
}

