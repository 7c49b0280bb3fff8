package archive

import (
	"database/sql"
	"time"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// CreateAccount inserts a new account row, defaulting its health to
// unknown until the first live test or routine cycle reports otherwise.
func (s *Store) CreateAccount(a *model.Account) (int64, error) {
	now := time.Now()
	if a.Health == "" {
		a.Health = model.HealthUnknown
	}
	res, err := s.db.Exec(`
		INSERT INTO accounts (owner_id, name, protocol, host, port, username, password, timeout_seconds, allow_insecure_tls, health, health_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.OwnerID, a.Name, string(a.Protocol), a.Host, a.Port, a.Username, a.Password, a.TimeoutSeconds, a.AllowInsecureTLS,
		string(a.Health), a.HealthError, timeToRFC3339(now), timeToRFC3339(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAccount loads an account row, returning nil if it doesn't exist.
func (s *Store) GetAccount(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT id, owner_id, name, protocol, host, port, username, password, timeout_seconds, allow_insecure_tls, health, health_error, created_at, updated_at FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// ListAccountsByOwner returns every account belonging to owner, oldest
// first.
func (s *Store) ListAccountsByOwner(ownerID string) ([]model.Account, error) {
	rows, err := s.db.Query(`SELECT id, owner_id, name, protocol, host, port, username, password, timeout_seconds, allow_insecure_tls, health, health_error, created_at, updated_at FROM accounts WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAccount persists the mutable fields of an account (name, host,
// port, credentials); protocol and owner are immutable after creation.
func (s *Store) UpdateAccount(a *model.Account) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET name = ?, host = ?, port = ?, username = ?, password = ?, timeout_seconds = ?, allow_insecure_tls = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Host, a.Port, a.Username, a.Password, a.TimeoutSeconds, a.AllowInsecureTLS, timeToRFC3339(time.Now()), a.ID)
	return err
}

// DeleteAccount removes an account and, per spec.md's cascade-delete
// invariant, every mailbox (and thus every routine) it owns.
func (s *Store) DeleteAccount(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	mailboxRows, err := tx.Query(`SELECT id FROM mailboxes WHERE account_id = ?`, id)
	if err != nil {
		return err
	}
	var mailboxIDs []int64
	for mailboxRows.Next() {
		var mid int64
		if err := mailboxRows.Scan(&mid); err != nil {
			mailboxRows.Close()
			return err
		}
		mailboxIDs = append(mailboxIDs, mid)
	}
	mailboxRows.Close()

	for _, mid := range mailboxIDs {
		if _, err := tx.Exec(`DELETE FROM routines WHERE mailbox_id = ?`, mid); err != nil {
			return err
		}

		emailRows, err := tx.Query(`SELECT id FROM emails WHERE mailbox_id = ?`, mid)
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
		if _, err := tx.Exec(`DELETE FROM emails WHERE mailbox_id = ?`, mid); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM mailboxes WHERE account_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SetAccountHealth records the account's health and last-error text. It
// is the persistence half of internal/health's cascade rules — callers
// serialize writes to a given account with their own per-entity lock.
func (s *Store) SetAccountHealth(id int64, health model.HealthState, errText string) error {
	_, err := s.db.Exec(`UPDATE accounts SET health = ?, health_error = ?, updated_at = ? WHERE id = ?`,
		string(health), nullIfEmpty(errText), timeToRFC3339(time.Now()), id)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	var a model.Account
	var protocol string
	var healthErr sql.NullString
	var created, updated string
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &protocol, &a.Host, &a.Port, &a.Username, &a.Password, &a.TimeoutSeconds, &a.AllowInsecureTLS, &a.Health, &healthErr, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	a.Protocol = model.Protocol(protocol)
	a.HealthError = healthErr.String
	a.CreatedAt = parseRFC3339(created)
	a.UpdatedAt = parseRFC3339(updated)
	return &a, nil
}

func scanAccountRows(rows *sql.Rows) (*model.Account, error) {
	var a model.Account
	var protocol string
	var healthErr sql.NullString
	var created, updated string
	if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &protocol, &a.Host, &a.Port, &a.Username, &a.Password, &a.TimeoutSeconds, &a.AllowInsecureTLS, &a.Health, &healthErr, &created, &updated); err != nil {
		return nil, err
	}
	a.Protocol = model.Protocol(protocol)
	a.HealthError = healthErr.String
	a.CreatedAt = parseRFC3339(created)
	a.UpdatedAt = parseRFC3339(updated)
	return &a, nil
}
