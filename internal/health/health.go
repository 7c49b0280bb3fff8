// Package health implements the three-level health cascade of spec.md
// §4.8: account → mailbox → routine, each a tri-state (unknown | healthy
// | unhealthy) with a last-error string. It is grounded on
// internal/connwatch.Watcher, which tracks a single external service's
// ready/not-ready state and fires OnReady/OnDown exactly once per
// transition; here that same "fire once per transition" discipline is
// repurposed from "is this service reachable" to "is this archive
// entity healthy", and extended from one level to a three-level
// cascade with explicit propagation rules instead of a flat bool.
package health

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// Store is the subset of archive.Store's persistence surface the
// Tracker needs: per-entity health writes and the lookups required to
// walk a cascade down from an account to its mailboxes and routines.
type Store interface {
	GetAccount(id int64) (*model.Account, error)
	SetAccountHealth(id int64, health model.HealthState, errText string) error
	GetMailbox(id int64) (*model.Mailbox, error)
	ListMailboxesByAccount(accountID int64) ([]model.Mailbox, error)
	SetMailboxHealth(id int64, health model.HealthState, errText string) error
	ListRoutinesByMailbox(mailboxID int64) ([]model.Routine, error)
	SetRoutineHealth(uuid string, health model.HealthState, errText string) error
}

// Tracker applies spec.md §4.8's propagation rules against a Store,
// serializing health-flag writes for a given entity behind a per-entity
// lock (spec.md §5's "health-flag writes ... serialized by a per-entity
// lock") so concurrent routine cycles touching the same account or
// mailbox cannot interleave into a non-monotonic state.
type Tracker struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Tracker over store.
func New(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (t *Tracker) lockFor(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

func accountKey(id int64) string { return fmt.Sprintf("account:%d", id) }
func mailboxKey(id int64) string { return fmt.Sprintf("mailbox:%d", id) }
func routineKey(uuid string) string { return fmt.Sprintf("routine:%s", uuid) }

// RoutineSucceeded records a successful fetch cycle: per spec.md §4.8,
// the routine, its mailbox, and its account all become healthy. Locks
// are always taken account-then-mailbox-then-routine so a concurrent
// failure report on the same entities cannot deadlock against this call.
func (t *Tracker) RoutineSucceeded(routine *model.Routine, mailbox *model.Mailbox, account *model.Account) error {
	al := t.lockFor(accountKey(account.ID))
	al.Lock()
	defer al.Unlock()
	if err := t.setAccountHealthy(account); err != nil {
		return err
	}

	ml := t.lockFor(mailboxKey(mailbox.ID))
	ml.Lock()
	defer ml.Unlock()
	if err := t.setHealthy("mailbox", mailbox.ID, mailbox.Health, t.store.SetMailboxHealth); err != nil {
		return err
	}

	rl := t.lockFor(routineKey(routine.UUID))
	rl.Lock()
	defer rl.Unlock()
	return t.setHealthyRoutine(routine)
}

// setAccountHealthy flips an account to healthy. Per spec.md §4.8, a
// mailbox cycle succeeding always proves the account works too, even
// though an account flipping unhealthy→healthy on its own never
// auto-flips its mailboxes (the asymmetry is deliberate: a working
// mailbox cycle is positive proof, while "the account recovered" says
// nothing about a mailbox's own, possibly independent, brokenness).
func (t *Tracker) setAccountHealthy(account *model.Account) error {
	if account.Health == model.HealthHealthy {
		return nil
	}
	if err := t.store.SetAccountHealth(account.ID, model.HealthHealthy, ""); err != nil {
		return err
	}
	t.logger.Info("account recovered", "account_id", account.ID, "from", account.Health)
	account.Health = model.HealthHealthy
	account.HealthError = ""
	return nil
}

func (t *Tracker) setHealthy(kind string, id int64, current model.HealthState, write func(int64, model.HealthState, string) error) error {
	if current == model.HealthHealthy {
		return nil
	}
	if err := write(id, model.HealthHealthy, ""); err != nil {
		return err
	}
	t.logger.Info(kind+" recovered", "id", id, "from", current)
	return nil
}

func (t *Tracker) setHealthyRoutine(routine *model.Routine) error {
	if routine.Health == model.HealthHealthy {
		return nil
	}
	if err := t.store.SetRoutineHealth(routine.UUID, model.HealthHealthy, ""); err != nil {
		return err
	}
	t.logger.Info("routine recovered", "uuid", routine.UUID, "from", routine.Health)
	routine.Health = model.HealthHealthy
	routine.HealthError = ""
	return nil
}

// MailboxFailed records a mailbox-scoped cycle failure (*mail.MailboxError):
// per spec.md §4.8, the routine and its mailbox become unhealthy; the
// account is left untouched.
func (t *Tracker) MailboxFailed(routine *model.Routine, mailbox *model.Mailbox, errText string) error {
	ml := t.lockFor(mailboxKey(mailbox.ID))
	ml.Lock()
	defer ml.Unlock()
	if err := t.store.SetMailboxHealth(mailbox.ID, model.HealthUnhealthy, errText); err != nil {
		return err
	}
	mailbox.Health = model.HealthUnhealthy
	mailbox.HealthError = errText

	rl := t.lockFor(routineKey(routine.UUID))
	rl.Lock()
	defer rl.Unlock()
	if err := t.store.SetRoutineHealth(routine.UUID, model.HealthUnhealthy, errText); err != nil {
		return err
	}
	routine.Health = model.HealthUnhealthy
	routine.HealthError = errText
	t.logger.Info("mailbox cycle failed", "mailbox_id", mailbox.ID, "routine", routine.UUID, "error", errText)
	return nil
}

// AccountFailed records an account-scoped cycle failure (*mail.AccountError):
// per spec.md §4.8, the account becomes unhealthy, and — only on the
// transition into unhealthy, so a cascade never re-fires on every
// subsequent failed cycle — every mailbox under it and every routine
// under those mailboxes cascades to unhealthy too.
func (t *Tracker) AccountFailed(account *model.Account, errText string) error {
	al := t.lockFor(accountKey(account.ID))
	al.Lock()
	defer al.Unlock()

	wasHealthy := account.Health != model.HealthUnhealthy
	if err := t.store.SetAccountHealth(account.ID, model.HealthUnhealthy, errText); err != nil {
		return err
	}
	account.Health = model.HealthUnhealthy
	account.HealthError = errText
	t.logger.Info("account cycle failed", "account_id", account.ID, "error", errText)

	if !wasHealthy {
		return nil
	}
	return t.cascadeUnhealthy(account.ID, errText)
}

// cascadeUnhealthy marks every mailbox of an account, and every routine
// of those mailboxes, unhealthy with a cascade-attributed error message.
func (t *Tracker) cascadeUnhealthy(accountID int64, accountErr string) error {
	mailboxes, err := t.store.ListMailboxesByAccount(accountID)
	if err != nil {
		return fmt.Errorf("list mailboxes for cascade: %w", err)
	}

	cascadeMsg := fmt.Sprintf("account unhealthy: %s", accountErr)
	for _, mailbox := range mailboxes {
		ml := t.lockFor(mailboxKey(mailbox.ID))
		ml.Lock()
		err := t.store.SetMailboxHealth(mailbox.ID, model.HealthUnhealthy, cascadeMsg)
		ml.Unlock()
		if err != nil {
			return fmt.Errorf("cascade mailbox %d: %w", mailbox.ID, err)
		}

		routines, err := t.store.ListRoutinesByMailbox(mailbox.ID)
		if err != nil {
			return fmt.Errorf("list routines for cascade: %w", err)
		}
		for _, routine := range routines {
			rl := t.lockFor(routineKey(routine.UUID))
			rl.Lock()
			err := t.store.SetRoutineHealth(routine.UUID, model.HealthUnhealthy, cascadeMsg)
			rl.Unlock()
			if err != nil {
				return fmt.Errorf("cascade routine %s: %w", routine.UUID, err)
			}
		}
	}
	t.logger.Info("account health cascaded to mailboxes and routines", "account_id", accountID, "mailboxes", len(mailboxes))
	return nil
}

// RoutineCrashed records an unexpected, non-protocol error from a cycle
// (spec.md §4.7 point 6): the routine alone becomes unhealthy; mailbox
// and account are left untouched, since the failure isn't known to be
// theirs.
func (t *Tracker) RoutineCrashed(routine *model.Routine, errText string) error {
	rl := t.lockFor(routineKey(routine.UUID))
	rl.Lock()
	defer rl.Unlock()
	if err := t.store.SetRoutineHealth(routine.UUID, model.HealthUnhealthy, errText); err != nil {
		return err
	}
	routine.Health = model.HealthUnhealthy
	routine.HealthError = errText
	t.logger.Error("routine crashed", "uuid", routine.UUID, "error", errText)
	return nil
}
