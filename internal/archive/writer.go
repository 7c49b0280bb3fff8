package archive

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/archivekeep/mailarchiver/internal/model"
	"github.com/archivekeep/mailarchiver/internal/parser"
)

// WriteOutcome reports what Write actually did, distinguishing the two
// expected no-op paths (duplicate, spam-discarded) from a genuine new
// archive.
type WriteOutcome string

const (
	OutcomeArchived     WriteOutcome = "archived"
	OutcomeDuplicate    WriteOutcome = "duplicate"
	OutcomeSpamDiscard  WriteOutcome = "discarded_spam"
)

// WriteResult is returned by Writer.Write.
type WriteResult struct {
	Outcome WriteOutcome
	EmailID int64
}

// Writer implements the idempotent archive algorithm: one parsed
// message plus a target mailbox becomes an Email row, its Attachment
// rows, and its EmailCorrespondent edges, or a no-op duplicate/spam
// outcome. Grounded on the upsert-by-unique-constraint idiom in
// internal/contacts/store.go (active-name uniqueness, retry-on-conflict
// by re-reading).
type Writer struct {
	store  *Store
	blobs  *BlobStore
	logger *slog.Logger

	// mu serializes writes per mailbox+message-id pair, the advisory
	// lock spec.md calls for, implemented in-process since a single
	// archiver process owns the SQLite file.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter creates a Writer over store and blobs.
func NewWriter(store *Store, blobs *BlobStore, logger *slog.Logger) *Writer {
	return &Writer{store: store, blobs: blobs, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (w *Writer) lockFor(mailboxID int64, messageID string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", mailboxID, messageID)
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[key]
	if !ok {
		l = &sync.Mutex{}
		w.locks[key] = l
	}
	return l
}

// Write persists parsed into mailbox, honoring the duplicate and
// spam-discard short circuits and the mailbox's save_to_eml /
// save_attachments policy. ownerID scopes correspondent upserts —
// addresses are never shared across tenants.
func (w *Writer) Write(ownerID string, mailbox *model.Mailbox, raw []byte, parsed *parser.ParsedEmail) (WriteResult, error) {
	if parsed.MessageID == "" {
		return WriteResult{}, &ValidationError{Field: "message_id", Reason: "missing and could not be synthesized"}
	}

	lock := w.lockFor(mailbox.ID, parsed.MessageID)
	lock.Lock()
	defer lock.Unlock()

	existingID, err := w.existingEmailID(mailbox.ID, parsed.MessageID)
	if err != nil {
		return WriteResult{}, err
	}
	if existingID != 0 {
		return WriteResult{Outcome: OutcomeDuplicate, EmailID: existingID}, nil
	}

	if parsed.SpamFlagged && mailbox.ThrowOutSpam && mailbox.Kind != model.MailboxKindJunk {
		return WriteResult{Outcome: OutcomeSpamDiscard}, nil
	}

	return w.writeWithRetry(ownerID, mailbox, raw, parsed)
}

func (w *Writer) existingEmailID(mailboxID int64, messageID string) (int64, error) {
	var id int64
	err := w.store.db.QueryRow(`SELECT id FROM emails WHERE mailbox_id = ? AND message_id = ?`, mailboxID, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// writeWithRetry performs the transactional write, up to 3 attempts in
// total. Every failed attempt is retried, whether the failure came from
// the database or from the blob store.
func (w *Writer) writeWithRetry(ownerID string, mailbox *model.Mailbox, raw []byte, parsed *parser.ParsedEmail) (WriteResult, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		result, err := w.writeOnce(ownerID, mailbox, raw, parsed)
		if err == nil {
			return result, nil
		}
		lastErr = err
		w.logger.Debug("archive write failed, retrying", "attempt", attempt+1, "error", err)
	}
	return WriteResult{}, fmt.Errorf("write email after 3 attempts: %w", lastErr)
}

func (w *Writer) writeOnce(ownerID string, mailbox *model.Mailbox, raw []byte, parsed *parser.ParsedEmail) (WriteResult, error) {
	tx, err := w.store.db.Begin()
	if err != nil {
		return WriteResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.Exec(
		`INSERT INTO emails (mailbox_id, message_id, subject, date, blob_path, size, refs, in_reply_to, is_spam, created_at)
		 VALUES (?, ?, ?, ?, '', ?, ?, ?, ?, ?)`,
		mailbox.ID, parsed.MessageID, parsed.Subject, timeToRFC3339(parsed.Date), parsed.Size,
		strings.Join(parsed.References, " "), strings.Join(parsed.InReplyTo, " "), parsed.SpamFlagged, timeToRFC3339(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			existingID, lookupErr := w.existingEmailID(mailbox.ID, parsed.MessageID)
			if lookupErr == nil && existingID != 0 {
				return WriteResult{Outcome: OutcomeDuplicate, EmailID: existingID}, nil
			}
		}
		return WriteResult{}, fmt.Errorf("insert email: %w", err)
	}

	emailID, err := res.LastInsertId()
	if err != nil {
		return WriteResult{}, err
	}

	blobPath := ""
	if mailbox.SaveToEML {
		blobPath, err = w.blobs.PutEmail(mailbox.ID, emailID, parsed.MessageID, raw)
		if err != nil {
			return WriteResult{}, fmt.Errorf("store email blob: %w", err)
		}
		if _, err := tx.Exec(`UPDATE emails SET blob_path = ? WHERE id = ?`, blobPath, emailID); err != nil {
			return WriteResult{}, fmt.Errorf("record blob path: %w", err)
		}
	}

	for _, tuple := range parsed.Correspondents {
		correspondentID, err := w.upsertCorrespondent(tx, ownerID, tuple.Address, tuple.DisplayName)
		if err != nil {
			return WriteResult{}, fmt.Errorf("upsert correspondent %s: %w", tuple.Address, err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO email_correspondents (email_id, correspondent_id, role) VALUES (?, ?, ?)`,
			emailID, correspondentID, string(tuple.Role),
		); err != nil {
			return WriteResult{}, fmt.Errorf("link correspondent: %w", err)
		}
		if tuple.Role == model.RoleFrom && !parsed.ListServ.IsZero() {
			if err := w.updateListServ(tx, correspondentID, parsed.ListServ); err != nil {
				return WriteResult{}, fmt.Errorf("record list-serv headers: %w", err)
			}
		}
	}

	for i, att := range parsed.Attachments {
		attachmentID, err := w.insertAttachment(tx, mailbox.ID, emailID, int64(i+1), att, mailbox.SaveAttachments)
		if err != nil {
			return WriteResult{}, fmt.Errorf("insert attachment %q: %w", att.Filename, err)
		}
		_ = attachmentID
	}

	if err := w.linkReferences(tx, ownerID, emailID, parsed.References); err != nil {
		return WriteResult{}, fmt.Errorf("link references: %w", err)
	}
	if err := w.linkReferences(tx, ownerID, emailID, parsed.InReplyTo); err != nil {
		return WriteResult{}, fmt.Errorf("link in-reply-to: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("commit: %w", err)
	}

	return WriteResult{Outcome: OutcomeArchived, EmailID: emailID}, nil
}

func (w *Writer) upsertCorrespondent(tx *sql.Tx, ownerID, address, displayName string) (int64, error) {
	now := timeToRFC3339(time.Now())
	_, err := tx.Exec(
		`INSERT INTO correspondents (owner_id, address, display_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, address) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at
		   WHERE excluded.display_name != ''`,
		ownerID, address, displayName, now, now,
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(`SELECT id FROM correspondents WHERE owner_id = ? AND address = ?`, ownerID, address).Scan(&id)
	return id, err
}

// updateListServ records the List-* headers captured on a mailing-list
// message's From correspondent; run within the same transaction as the
// rest of the write so it rolls back with everything else on failure.
func (w *Writer) updateListServ(tx *sql.Tx, correspondentID int64, l model.ListServ) error {
	_, err := tx.Exec(`
		UPDATE correspondents SET
			list_id = ?, list_owner = ?, list_subscribe = ?, list_unsubscribe = ?,
			list_post = ?, list_help = ?, list_archive = ?, list_unsubscribe_post = ?,
			updated_at = ?
		WHERE id = ?`,
		l.ID, l.Owner, l.Subscribe, l.Unsubscribe, l.Post, l.Help, l.Archive, l.UnsubscribePost,
		timeToRFC3339(time.Now()), correspondentID)
	return err
}

func (w *Writer) insertAttachment(tx *sql.Tx, mailboxID, emailID, ordinal int64, att parser.ParsedAttachment, save bool) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO attachments (email_id, filename, content_type, content_disposition, content_id, blob_path, size) VALUES (?, ?, ?, ?, ?, '', ?)`,
		emailID, att.Filename, att.ContentType, att.Disposition, att.ContentID, len(att.Data),
	)
	if err != nil {
		return 0, err
	}
	attachmentID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if save && len(att.Data) > 0 {
		path, err := w.blobs.PutAttachment(mailboxID, emailID, attachmentID, att.Filename, att.Data)
		if err != nil {
			return 0, fmt.Errorf("store attachment blob: %w", err)
		}
		if _, err := tx.Exec(`UPDATE attachments SET blob_path = ? WHERE id = ?`, path, attachmentID); err != nil {
			return 0, err
		}
	}

	return attachmentID, nil
}

// linkReferences resolves each referenced message-id against every
// mailbox owned (transitively, via accounts) by ownerID and records a
// sparse edge for whatever it finds; missing targets are not an error,
// the relation is sparse by design.
func (w *Writer) linkReferences(tx *sql.Tx, ownerID string, emailID int64, messageIDs []string) error {
	for _, ref := range messageIDs {
		rows, err := tx.Query(`
			SELECT e.id FROM emails e
			JOIN mailboxes m ON m.id = e.mailbox_id
			JOIN accounts a ON a.id = m.account_id
			WHERE e.message_id = ? AND a.owner_id = ?`, ref, ownerID)
		if err != nil {
			return err
		}
		var targets []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			targets = append(targets, id)
		}
		rows.Close()

		for _, target := range targets {
			if target == emailID {
				continue
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO email_references (email_id, referenced_email_id) VALUES (?, ?)`, emailID, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
