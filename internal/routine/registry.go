// Package routine implements the Routine Model & Registry (spec.md C6):
// durable scheduling records for per-mailbox fetch jobs, and the
// one-shot cycle that ties the protocol fetchers (C2), MIME parser (C3),
// archive writer (C4), and health tracker (C8) together into a single
// fetch-and-archive pass. Grounded on an SQLite-backed CRUD store over a
// Task-shaped row, adapted to the Routine entity, and on
// original_source/core/EmailArchiverDaemonRegistry.py for the
// registry's method surface (is_running, update_daemon → Update,
// test_daemon → test invocation, start_daemon/stop_daemon →
// MarkRunning/MarkStopped, healthcheck).
package routine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/archivekeep/mailarchiver/internal/archive"
	"github.com/archivekeep/mailarchiver/internal/mail"
	"github.com/archivekeep/mailarchiver/internal/model"
)

// Registry owns the persisted set of routines plus the in-memory record
// of which ones currently have a scheduler worker goroutine running for
// them. The scheduler (C7) calls MarkRunning/MarkStopped as it starts
// and stops workers; Registry itself never spawns goroutines.
type Registry struct {
	store *archive.Store

	mu      sync.Mutex
	running map[string]bool
}

// NewRegistry creates a Registry over store.
func NewRegistry(store *archive.Store) *Registry {
	return &Registry{store: store, running: make(map[string]bool)}
}

// Register validates a new routine's criterion against its mailbox's
// account protocol (spec.md §3's Routine invariant), assigns it a uuid
// if it doesn't already have one, and persists it.
func (r *Registry) Register(routine *model.Routine) error {
	mailbox, err := r.store.GetMailbox(routine.MailboxID)
	if err != nil {
		return fmt.Errorf("load mailbox %d: %w", routine.MailboxID, err)
	}
	if mailbox == nil {
		return fmt.Errorf("mailbox %d does not exist", routine.MailboxID)
	}
	account, err := r.store.GetAccount(mailbox.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", mailbox.AccountID, err)
	}
	if account == nil {
		return fmt.Errorf("account %d does not exist", mailbox.AccountID)
	}

	if err := mail.ValidateCriterion(account.Protocol, routine.FetchingCriterion, routine.CriterionArg); err != nil {
		return fmt.Errorf("invalid routine: %w", err)
	}

	if routine.UUID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate routine uuid: %w", err)
		}
		routine.UUID = id.String()
	}
	if routine.Health == "" {
		routine.Health = model.HealthUnknown
	}

	return r.store.CreateRoutine(routine)
}

// Update persists a routine's mutable scheduling fields. The caller
// (the scheduler) is responsible for restarting any active worker so
// the new interval/criterion takes effect, per
// EmailArchiverDaemonRegistry.update_daemon's "if running, update in
// place" behavior.
func (r *Registry) Update(routine *model.Routine) error {
	return r.store.UpdateRoutine(routine)
}

// Unregister removes a routine's persisted record and its running-state
// entry. The caller must have already stopped any active worker.
func (r *Registry) Unregister(uuid string) error {
	r.mu.Lock()
	delete(r.running, uuid)
	r.mu.Unlock()
	return r.store.DeleteRoutine(uuid)
}

// IsRunning reports whether the scheduler currently has a worker
// goroutine active for uuid.
func (r *Registry) IsRunning(uuid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[uuid]
}

// MarkRunning records that the scheduler has started a worker for uuid.
func (r *Registry) MarkRunning(uuid string) {
	r.mu.Lock()
	r.running[uuid] = true
	r.mu.Unlock()
}

// MarkStopped records that the scheduler's worker for uuid has exited.
func (r *Registry) MarkStopped(uuid string) {
	r.mu.Lock()
	delete(r.running, uuid)
	r.mu.Unlock()
}

// Get loads a single routine by uuid.
func (r *Registry) Get(uuid string) (*model.Routine, error) {
	return r.store.GetRoutine(uuid)
}

// List returns every persisted routine.
func (r *Registry) List() ([]model.Routine, error) {
	return r.store.ListRoutines()
}

// Healthcheck reports whether, for every persisted routine, the
// in-memory running state matches its enabled flag — the control
// plane's consistency check, grounded on
// EmailArchiverDaemonRegistry.healthcheck.
func (r *Registry) Healthcheck() (bool, error) {
	routines, err := r.store.ListRoutines()
	if err != nil {
		return false, err
	}
	for _, routine := range routines {
		if routine.Enabled != r.IsRunning(routine.UUID) {
			return false, nil
		}
	}
	return true, nil
}
