package archive

import (
	"database/sql"
	"time"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// CreateRoutine inserts a new routine row. The caller (internal/routine's
// Registry) is responsible for generating the UUID and validating the
// criterion against the mailbox's account protocol before calling this.
func (s *Store) CreateRoutine(r *model.Routine) error {
	now := time.Now()
	if r.Health == "" {
		r.Health = model.HealthUnknown
	}
	_, err := s.db.Exec(`
		INSERT INTO routines (uuid, mailbox_id, interval_seconds, fetching_criterion, criterion_arg, enabled, health, health_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UUID, r.MailboxID, int64(r.Interval/time.Second), string(r.FetchingCriterion), nullIfEmpty(r.CriterionArg),
		r.Enabled, string(r.Health), nullIfEmpty(r.HealthError), timeToRFC3339(now), timeToRFC3339(now))
	return err
}

// GetRoutine loads a routine row by uuid, returning nil if it doesn't
// exist.
func (s *Store) GetRoutine(uuid string) (*model.Routine, error) {
	row := s.db.QueryRow(`SELECT uuid, mailbox_id, interval_seconds, fetching_criterion, criterion_arg, enabled, health, health_error, last_run_at, last_run_messages, created_at, updated_at FROM routines WHERE uuid = ?`, uuid)
	return scanRoutine(row)
}

// ListRoutines returns every persisted routine, used by the scheduler to
// rebuild its worker set on startup and by the registry's healthcheck.
func (s *Store) ListRoutines() ([]model.Routine, error) {
	rows, err := s.db.Query(`SELECT uuid, mailbox_id, interval_seconds, fetching_criterion, criterion_arg, enabled, health, health_error, last_run_at, last_run_messages, created_at, updated_at FROM routines ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Routine
	for rows.Next() {
		r, err := scanRoutineRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListRoutinesByMailbox returns every routine bound to a mailbox, used
// by health cascade when an account or mailbox flips unhealthy.
func (s *Store) ListRoutinesByMailbox(mailboxID int64) ([]model.Routine, error) {
	rows, err := s.db.Query(`SELECT uuid, mailbox_id, interval_seconds, fetching_criterion, criterion_arg, enabled, health, health_error, last_run_at, last_run_messages, created_at, updated_at FROM routines WHERE mailbox_id = ? ORDER BY created_at`, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Routine
	for rows.Next() {
		r, err := scanRoutineRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRoutine persists a routine's mutable scheduling fields
// (interval, criterion, enabled flag).
func (s *Store) UpdateRoutine(r *model.Routine) error {
	_, err := s.db.Exec(`
		UPDATE routines SET interval_seconds = ?, fetching_criterion = ?, criterion_arg = ?, enabled = ?, updated_at = ?
		WHERE uuid = ?`,
		int64(r.Interval/time.Second), string(r.FetchingCriterion), nullIfEmpty(r.CriterionArg), r.Enabled,
		timeToRFC3339(time.Now()), r.UUID)
	return err
}

// DeleteRoutine removes a routine row.
func (s *Store) DeleteRoutine(uuid string) error {
	_, err := s.db.Exec(`DELETE FROM routines WHERE uuid = ?`, uuid)
	return err
}

// SetRoutineHealth records the routine's health and last-error text.
func (s *Store) SetRoutineHealth(uuid string, health model.HealthState, errText string) error {
	_, err := s.db.Exec(`UPDATE routines SET health = ?, health_error = ?, updated_at = ? WHERE uuid = ?`,
		string(health), nullIfEmpty(errText), timeToRFC3339(time.Now()), uuid)
	return err
}

// RecordRoutineRun stamps the outcome of one fetch cycle: when it ran
// and how many messages it archived (0 on failure).
func (s *Store) RecordRoutineRun(uuid string, ranAt time.Time, messages int) error {
	_, err := s.db.Exec(`UPDATE routines SET last_run_at = ?, last_run_messages = ?, updated_at = ? WHERE uuid = ?`,
		timeToRFC3339(ranAt), messages, timeToRFC3339(time.Now()), uuid)
	return err
}

func scanRoutine(row *sql.Row) (*model.Routine, error) {
	var r model.Routine
	var criterion string
	var criterionArg, healthErr sql.NullString
	var lastRunAt sql.NullString
	var lastRunMessages sql.NullInt64
	var intervalSeconds int64
	var created, updated string
	if err := row.Scan(&r.UUID, &r.MailboxID, &intervalSeconds, &criterion, &criterionArg, &r.Enabled, &r.Health, &healthErr, &lastRunAt, &lastRunMessages, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	fillRoutine(&r, intervalSeconds, criterion, criterionArg, healthErr, lastRunAt, lastRunMessages, created, updated)
	return &r, nil
}

func scanRoutineRows(rows *sql.Rows) (*model.Routine, error) {
	var r model.Routine
	var criterion string
	var criterionArg, healthErr sql.NullString
	var lastRunAt sql.NullString
	var lastRunMessages sql.NullInt64
	var intervalSeconds int64
	var created, updated string
	if err := rows.Scan(&r.UUID, &r.MailboxID, &intervalSeconds, &criterion, &criterionArg, &r.Enabled, &r.Health, &healthErr, &lastRunAt, &lastRunMessages, &created, &updated); err != nil {
		return nil, err
	}
	fillRoutine(&r, intervalSeconds, criterion, criterionArg, healthErr, lastRunAt, lastRunMessages, created, updated)
	return &r, nil
}

func fillRoutine(r *model.Routine, intervalSeconds int64, criterion string, criterionArg, healthErr, lastRunAt sql.NullString, lastRunMessages sql.NullInt64, created, updated string) {
	r.Interval = time.Duration(intervalSeconds) * time.Second
	r.FetchingCriterion = model.FetchingCriterion(criterion)
	r.CriterionArg = criterionArg.String
	r.HealthError = healthErr.String
	r.LastRunAt = parseRFC3339(lastRunAt.String)
	r.LastRunMessages = int(lastRunMessages.Int64)
	r.CreatedAt = parseRFC3339(created)
	r.UpdatedAt = parseRFC3339(updated)
}
