package archive

import "fmt"

// DuplicateError describes a message whose (mailbox, message-id) pair
// already has an archived row. Writer.Write reports that case as
// OutcomeDuplicate with a nil error rather than returning this type —
// archiving is idempotent, this is an expected outcome, not a failure.
type DuplicateError struct {
	MailboxID int64
	MessageID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("message %q already archived in mailbox %d", e.MessageID, e.MailboxID)
}

// SpamDiscardError describes a message that a mailbox's spam-filter
// policy rejected; nothing is persisted for it (Writer.Write reports the
// case as OutcomeSpamDiscard), so this is informational, not a failed
// write.
type SpamDiscardError struct {
	MailboxID int64
	MessageID string
}

func (e *SpamDiscardError) Error() string {
	return fmt.Sprintf("message %q discarded by spam policy in mailbox %d", e.MessageID, e.MailboxID)
}

// NotFoundError reports a missing row or blob, named by kind and key.
// The Store's Get* lookups return nil, nil for a missing row instead.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// ValidationError reports a row that failed an invariant before being
// persisted (e.g. a message missing a Message-ID that cannot be
// synthesized).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}
