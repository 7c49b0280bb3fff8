package archive

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/archivekeep/mailarchiver/internal/model"
	"github.com/archivekeep/mailarchiver/internal/parser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWriter(t *testing.T) (*Writer, *Store) {
	t.Helper()
	logger := testLogger()

	store, err := NewStore(filepath.Join(t.TempDir(), "archive.db"), logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}

	return NewWriter(store, blobs, logger), store
}

func insertMailbox(t *testing.T, store *Store, policy model.Mailbox) int64 {
	t.Helper()
	now := timeToRFC3339(time.Now())
	res, err := store.db.Exec(
		`INSERT INTO accounts (owner_id, name, protocol, host, port, username, password, created_at, updated_at)
		 VALUES ('owner-1', 'test', 'IMAP', 'localhost', 143, 'u', 'p', ?, ?)`, now, now)
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	accountID, _ := res.LastInsertId()

	res, err = store.db.Exec(
		`INSERT INTO mailboxes (account_id, remote_name, kind, save_to_eml, save_attachments, throw_out_spam, created_at, updated_at)
		 VALUES (?, 'INBOX', ?, ?, ?, ?, ?, ?)`,
		accountID, string(policy.Kind), policy.SaveToEML, policy.SaveAttachments, policy.ThrowOutSpam, now, now,
	)
	if err != nil {
		t.Fatalf("insert mailbox: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

const sampleMessage = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: Hi\r\n" +
	"Message-Id: <msg1@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Hello.\r\n"

func TestWriter_Write_NewMessage(t *testing.T) {
	writer, store := newTestWriter(t)
	mailboxID := insertMailbox(t, store, model.Mailbox{SaveToEML: true, SaveAttachments: true})
	mailbox, err := store.GetMailboxByID(mailboxID)
	if err != nil {
		t.Fatalf("GetMailboxByID: %v", err)
	}

	parsed, err := parser.Parse(testLogger(), []byte(sampleMessage), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	result, err := writer.Write("owner-1", mailbox, []byte(sampleMessage), parsed)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if result.Outcome != OutcomeArchived {
		t.Errorf("Outcome = %q, want %q", result.Outcome, OutcomeArchived)
	}
	if result.EmailID == 0 {
		t.Error("expected non-zero EmailID")
	}
}

func TestWriter_Write_Duplicate(t *testing.T) {
	writer, store := newTestWriter(t)
	mailboxID := insertMailbox(t, store, model.Mailbox{SaveToEML: true})
	mailbox, _ := store.GetMailboxByID(mailboxID)

	parsed, err := parser.Parse(testLogger(), []byte(sampleMessage), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	first, err := writer.Write("owner-1", mailbox, []byte(sampleMessage), parsed)
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}

	second, err := writer.Write("owner-1", mailbox, []byte(sampleMessage), parsed)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if second.Outcome != OutcomeDuplicate {
		t.Errorf("Outcome = %q, want %q", second.Outcome, OutcomeDuplicate)
	}
	if second.EmailID != first.EmailID {
		t.Errorf("EmailID = %d, want %d (same row as first write)", second.EmailID, first.EmailID)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM emails`).Scan(&count); err != nil {
		t.Fatalf("count emails: %v", err)
	}
	if count != 1 {
		t.Errorf("emails table has %d rows, want 1", count)
	}
}

func TestWriter_Write_SpamDiscard(t *testing.T) {
	writer, store := newTestWriter(t)
	mailboxID := insertMailbox(t, store, model.Mailbox{SaveToEML: true, ThrowOutSpam: true})
	mailbox, _ := store.GetMailboxByID(mailboxID)

	spamMessage := "From: spammer@example.com\r\n" +
		"To: victim@example.com\r\n" +
		"Subject: Buy now\r\n" +
		"Message-Id: <spam1@example.com>\r\n" +
		"X-Spam-Flag: YES\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"buy buy buy\r\n"

	parsed, err := parser.Parse(testLogger(), []byte(spamMessage), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	result, err := writer.Write("owner-1", mailbox, []byte(spamMessage), parsed)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if result.Outcome != OutcomeSpamDiscard {
		t.Errorf("Outcome = %q, want %q", result.Outcome, OutcomeSpamDiscard)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM emails`).Scan(&count); err != nil {
		t.Fatalf("count emails: %v", err)
	}
	if count != 0 {
		t.Errorf("emails table has %d rows, want 0 (spam discarded)", count)
	}
}

func TestWriter_Write_JunkMailboxBypassesSpamPolicy(t *testing.T) {
	writer, store := newTestWriter(t)
	mailboxID := insertMailbox(t, store, model.Mailbox{SaveToEML: true, ThrowOutSpam: true, Kind: model.MailboxKindJunk})
	mailbox, _ := store.GetMailboxByID(mailboxID)

	spamMessage := "From: spammer@example.com\r\n" +
		"To: victim@example.com\r\n" +
		"Subject: Buy now\r\n" +
		"Message-Id: <spam2@example.com>\r\n" +
		"X-Spam-Flag: YES\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"buy buy buy\r\n"

	parsed, err := parser.Parse(testLogger(), []byte(spamMessage), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	result, err := writer.Write("owner-1", mailbox, []byte(spamMessage), parsed)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if result.Outcome != OutcomeArchived {
		t.Errorf("Outcome = %q, want %q (junk mailbox must bypass the spam policy)", result.Outcome, OutcomeArchived)
	}
}
