// Package archive implements persistence for the mail archiver: the
// SQLite-backed Store, the idempotent Writer that turns a parsed email
// into rows, and the content-addressed blob store backing both email
// bodies and attachments. Grounded on the same open-then-migrate SQLite
// pattern used elsewhere in this codebase's persistence layer.
package archive

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// Store owns the archive's SQLite database: accounts, mailboxes,
// routines, correspondents, emails, attachments, and the
// email_correspondents join table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (creating if necessary) the archive database at
// dbPath and applies its schema.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			protocol TEXT NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			timeout_seconds INTEGER NOT NULL DEFAULT 0,
			allow_insecure_tls INTEGER NOT NULL DEFAULT 0,
			health TEXT NOT NULL DEFAULT 'unknown',
			health_error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(owner_id, username, protocol)
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);

		CREATE TABLE IF NOT EXISTS mailboxes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES accounts(id),
			remote_name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			save_to_eml INTEGER NOT NULL DEFAULT 1,
			save_attachments INTEGER NOT NULL DEFAULT 1,
			throw_out_spam INTEGER NOT NULL DEFAULT 0,
			favorite INTEGER NOT NULL DEFAULT 0,
			health TEXT NOT NULL DEFAULT 'unknown',
			health_error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(account_id, remote_name)
		);

		CREATE TABLE IF NOT EXISTS routines (
			uuid TEXT PRIMARY KEY,
			mailbox_id INTEGER NOT NULL REFERENCES mailboxes(id),
			interval_seconds INTEGER NOT NULL,
			fetching_criterion TEXT NOT NULL,
			criterion_arg TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			health TEXT NOT NULL DEFAULT 'unknown',
			health_error TEXT,
			last_run_at TEXT,
			last_run_messages INTEGER,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_routines_mailbox ON routines(mailbox_id);

		CREATE TABLE IF NOT EXISTS correspondents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			address TEXT NOT NULL,
			display_name TEXT,
			real_name TEXT,
			favorite INTEGER NOT NULL DEFAULT 0,
			list_id TEXT,
			list_owner TEXT,
			list_subscribe TEXT,
			list_unsubscribe TEXT,
			list_post TEXT,
			list_help TEXT,
			list_archive TEXT,
			list_unsubscribe_post TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(owner_id, address)
		);

		CREATE TABLE IF NOT EXISTS emails (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mailbox_id INTEGER NOT NULL REFERENCES mailboxes(id),
			message_id TEXT NOT NULL,
			subject TEXT,
			date TEXT NOT NULL,
			blob_path TEXT NOT NULL,
			size INTEGER NOT NULL,
			refs TEXT,
			in_reply_to TEXT,
			is_spam INTEGER NOT NULL DEFAULT 0,
			favorite INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(mailbox_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_emails_mailbox_date ON emails(mailbox_id, date);

		CREATE TABLE IF NOT EXISTS attachments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email_id INTEGER NOT NULL REFERENCES emails(id),
			filename TEXT,
			content_type TEXT,
			content_disposition TEXT,
			content_id TEXT,
			blob_path TEXT,
			favorite INTEGER NOT NULL DEFAULT 0,
			size INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_attachments_email ON attachments(email_id);

		CREATE TABLE IF NOT EXISTS email_correspondents (
			email_id INTEGER NOT NULL REFERENCES emails(id),
			correspondent_id INTEGER NOT NULL REFERENCES correspondents(id),
			role TEXT NOT NULL,
			PRIMARY KEY (email_id, correspondent_id, role)
		);

		CREATE TABLE IF NOT EXISTS email_references (
			email_id INTEGER NOT NULL REFERENCES emails(id),
			referenced_email_id INTEGER NOT NULL REFERENCES emails(id),
			PRIMARY KEY (email_id, referenced_email_id)
		);
	`)
	return err
}

func timeToRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetMailboxByID loads a mailbox row, returning nil if it doesn't exist.
func (s *Store) GetMailboxByID(id int64) (*model.Mailbox, error) {
	row := s.db.QueryRow(`SELECT id, account_id, remote_name, kind, save_to_eml, save_attachments, throw_out_spam, favorite, health, health_error, created_at, updated_at FROM mailboxes WHERE id = ?`, id)
	var m model.Mailbox
	var kind string
	var healthErr sql.NullString
	var created, updated string
	if err := row.Scan(&m.ID, &m.AccountID, &m.RemoteName, &kind, &m.SaveToEML, &m.SaveAttachments, &m.ThrowOutSpam, &m.Favorite, &m.Health, &healthErr, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.Kind = model.MailboxKind(kind)
	m.HealthError = healthErr.String
	m.CreatedAt = parseRFC3339(created)
	m.UpdatedAt = parseRFC3339(updated)
	return &m, nil
}
