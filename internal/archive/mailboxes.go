package archive

import (
	"database/sql"
	"time"

	"github.com/archivekeep/mailarchiver/internal/config"
	"github.com/archivekeep/mailarchiver/internal/model"
)

// NewMailboxDefaults builds a new, not-yet-persisted Mailbox under
// accountID, seeding its write-policy flags from cfg's process-wide
// defaults (spec.md §6 DEFAULT_SAVE_ATTACHMENTS, DEFAULT_SAVE_TO_EML,
// THROW_OUT_SPAM) instead of Go's zero value. Callers that create a new
// mailbox — account scan, file-upload import, the "add-mailbox" control
// — should build through this rather than a bare struct literal so the
// configured defaults actually take effect.
func NewMailboxDefaults(cfg *config.Config, accountID int64, remoteName string, kind model.MailboxKind) *model.Mailbox {
	return &model.Mailbox{
		AccountID:       accountID,
		RemoteName:      remoteName,
		Kind:            kind,
		SaveToEML:       cfg.DefaultSaveToEML,
		SaveAttachments: cfg.DefaultSaveAttachments,
		ThrowOutSpam:    cfg.ThrowOutSpam,
	}
}

// CreateMailbox inserts a new mailbox row under an account.
func (s *Store) CreateMailbox(m *model.Mailbox) (int64, error) {
	now := time.Now()
	if m.Health == "" {
		m.Health = model.HealthUnknown
	}
	res, err := s.db.Exec(`
		INSERT INTO mailboxes (account_id, remote_name, kind, save_to_eml, save_attachments, throw_out_spam, favorite, health, health_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AccountID, m.RemoteName, string(m.Kind), m.SaveToEML, m.SaveAttachments, m.ThrowOutSpam, m.Favorite,
		string(m.Health), m.HealthError, timeToRFC3339(now), timeToRFC3339(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetMailbox is an alias of GetMailboxByID kept for symmetry with the
// other entities' Get<Name> accessors.
func (s *Store) GetMailbox(id int64) (*model.Mailbox, error) { return s.GetMailboxByID(id) }

// ListMailboxesByAccount returns every mailbox archived under an account.
func (s *Store) ListMailboxesByAccount(accountID int64) ([]model.Mailbox, error) {
	rows, err := s.db.Query(`SELECT id, account_id, remote_name, kind, save_to_eml, save_attachments, throw_out_spam, favorite, health, health_error, created_at, updated_at FROM mailboxes WHERE account_id = ? ORDER BY remote_name`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Mailbox
	for rows.Next() {
		m, err := scanMailboxRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMailbox persists a mailbox's mutable write-policy flags.
func (s *Store) UpdateMailbox(m *model.Mailbox) error {
	_, err := s.db.Exec(`
		UPDATE mailboxes SET kind = ?, save_to_eml = ?, save_attachments = ?, throw_out_spam = ?, favorite = ?, updated_at = ?
		WHERE id = ?`,
		string(m.Kind), m.SaveToEML, m.SaveAttachments, m.ThrowOutSpam, m.Favorite, timeToRFC3339(time.Now()), m.ID)
	return err
}

// DeleteMailbox removes a mailbox and, per spec.md's cascade-delete
// invariant, its routines and every email it owns (and, transitively,
// each email's attachments and correspondent edges). Blob files on disk
// are not reclaimed here — callers that care about disk usage sweep the
// blob store separately, since an in-flight export or restore may still
// hold a path into it.
func (s *Store) DeleteMailbox(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM routines WHERE mailbox_id = ?`, id); err != nil {
		return err
	}

	emailRows, err := tx.Query(`SELECT id FROM emails WHERE mailbox_id = ?`, id)
	if err != nil {
		return err
	}
	var emailIDs []int64
	for emailRows.Next() {
		var eid int64
		if err := emailRows.Scan(&eid); err != nil {
			emailRows.Close()
			return err
		}
		emailIDs = append(emailIDs, eid)
	}
	emailRows.Close()

	for _, eid := range emailIDs {
		if _, err := tx.Exec(`DELETE FROM email_correspondents WHERE email_id = ?`, eid); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM email_references WHERE email_id = ? OR referenced_email_id = ?`, eid, eid); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM attachments WHERE email_id = ?`, eid); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM emails WHERE mailbox_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM mailboxes WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SetMailboxHealth records the mailbox's health and last-error text.
func (s *Store) SetMailboxHealth(id int64, health model.HealthState, errText string) error {
	_, err := s.db.Exec(`UPDATE mailboxes SET health = ?, health_error = ?, updated_at = ? WHERE id = ?`,
		string(health), nullIfEmpty(errText), timeToRFC3339(time.Now()), id)
	return err
}

func scanMailboxRows(rows *sql.Rows) (*model.Mailbox, error) {
	var m model.Mailbox
	var kind string
	var healthErr sql.NullString
	var created, updated string
	if err := rows.Scan(&m.ID, &m.AccountID, &m.RemoteName, &kind, &m.SaveToEML, &m.SaveAttachments, &m.ThrowOutSpam, &m.Favorite, &m.Health, &healthErr, &created, &updated); err != nil {
		return nil, err
	}
	m.Kind = model.MailboxKind(kind)
	m.HealthError = healthErr.String
	m.CreatedAt = parseRFC3339(created)
	m.UpdatedAt = parseRFC3339(updated)
	return &m, nil
}
