package health

import (
	"io"
	"log/slog"
	"testing"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// fakeStore is an in-memory stand-in for archive.Store's health surface,
// good enough to exercise the cascade rules without a real database.
type fakeStore struct {
	accounts  map[int64]*model.Account
	mailboxes map[int64]*model.Mailbox
	routines  map[string]*model.Routine
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  map[int64]*model.Account{},
		mailboxes: map[int64]*model.Mailbox{},
		routines:  map[string]*model.Routine{},
	}
}

func (f *fakeStore) GetAccount(id int64) (*model.Account, error) { return f.accounts[id], nil }

func (f *fakeStore) SetAccountHealth(id int64, health model.HealthState, errText string) error {
	f.accounts[id].Health = health
	f.accounts[id].HealthError = errText
	return nil
}

func (f *fakeStore) GetMailbox(id int64) (*model.Mailbox, error) { return f.mailboxes[id], nil }

func (f *fakeStore) ListMailboxesByAccount(accountID int64) ([]model.Mailbox, error) {
	var out []model.Mailbox
	for _, m := range f.mailboxes {
		if m.AccountID == accountID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) SetMailboxHealth(id int64, health model.HealthState, errText string) error {
	f.mailboxes[id].Health = health
	f.mailboxes[id].HealthError = errText
	return nil
}

func (f *fakeStore) ListRoutinesByMailbox(mailboxID int64) ([]model.Routine, error) {
	var out []model.Routine
	for _, r := range f.routines {
		if r.MailboxID == mailboxID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) SetRoutineHealth(uuid string, health model.HealthState, errText string) error {
	f.routines[uuid].Health = health
	f.routines[uuid].HealthError = errText
	return nil
}

func testTracker() (*Tracker, *fakeStore) {
	store := newFakeStore()
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func seed(store *fakeStore) (*model.Account, *model.Mailbox, *model.Routine) {
	account := &model.Account{ID: 1, Health: model.HealthUnknown}
	mailbox := &model.Mailbox{ID: 10, AccountID: 1, Health: model.HealthUnknown}
	routine := &model.Routine{UUID: "r1", MailboxID: 10, Health: model.HealthUnknown}
	store.accounts[account.ID] = account
	store.mailboxes[mailbox.ID] = mailbox
	store.routines[routine.UUID] = routine
	return account, mailbox, routine
}

func TestTracker_RoutineSucceeded_MarksAllThreeHealthy(t *testing.T) {
	tr, store := testTracker()
	account, mailbox, routine := seed(store)

	if err := tr.RoutineSucceeded(routine, mailbox, account); err != nil {
		t.Fatalf("RoutineSucceeded: %v", err)
	}

	if store.accounts[1].Health != model.HealthHealthy {
		t.Errorf("account health = %v, want healthy", store.accounts[1].Health)
	}
	if store.mailboxes[10].Health != model.HealthHealthy {
		t.Errorf("mailbox health = %v, want healthy", store.mailboxes[10].Health)
	}
	if store.routines["r1"].Health != model.HealthHealthy {
		t.Errorf("routine health = %v, want healthy", store.routines["r1"].Health)
	}
}

func TestTracker_MailboxFailed_LeavesAccountUntouched(t *testing.T) {
	tr, store := testTracker()
	account, mailbox, routine := seed(store)
	account.Health = model.HealthHealthy
	store.accounts[1].Health = model.HealthHealthy

	if err := tr.MailboxFailed(routine, mailbox, "SELECT failed: NO"); err != nil {
		t.Fatalf("MailboxFailed: %v", err)
	}

	if store.accounts[1].Health != model.HealthHealthy {
		t.Errorf("account health = %v, want unchanged healthy", store.accounts[1].Health)
	}
	if store.mailboxes[10].Health != model.HealthUnhealthy {
		t.Errorf("mailbox health = %v, want unhealthy", store.mailboxes[10].Health)
	}
	if store.routines["r1"].Health != model.HealthUnhealthy {
		t.Errorf("routine health = %v, want unhealthy", store.routines["r1"].Health)
	}
}

func TestTracker_AccountFailed_CascadesToMailboxesAndRoutines(t *testing.T) {
	tr, store := testTracker()
	account, mailbox, routine := seed(store)
	account.Health = model.HealthHealthy
	mailbox.Health = model.HealthHealthy
	routine.Health = model.HealthHealthy
	store.accounts[1].Health = model.HealthHealthy
	store.mailboxes[10].Health = model.HealthHealthy
	store.routines["r1"].Health = model.HealthHealthy

	if err := tr.AccountFailed(account, "login failed"); err != nil {
		t.Fatalf("AccountFailed: %v", err)
	}

	if store.accounts[1].Health != model.HealthUnhealthy {
		t.Errorf("account health = %v, want unhealthy", store.accounts[1].Health)
	}
	if store.mailboxes[10].Health != model.HealthUnhealthy {
		t.Errorf("mailbox health = %v, want cascaded unhealthy", store.mailboxes[10].Health)
	}
	if store.routines["r1"].Health != model.HealthUnhealthy {
		t.Errorf("routine health = %v, want cascaded unhealthy", store.routines["r1"].Health)
	}
}

func TestTracker_AccountRecovery_DoesNotAutoHealMailbox(t *testing.T) {
	tr, store := testTracker()
	account, mailbox, routine := seed(store)
	account.Health = model.HealthUnhealthy
	mailbox.Health = model.HealthUnhealthy
	routine.Health = model.HealthUnhealthy
	store.accounts[1].Health = model.HealthUnhealthy
	store.mailboxes[10].Health = model.HealthUnhealthy

	// A routine cycle succeeding on a *different* mailbox of the same
	// account proves the account works, but must not silently mark this
	// still-broken mailbox healthy too.
	other := &model.Mailbox{ID: 11, AccountID: 1, Health: model.HealthUnknown}
	otherRoutine := &model.Routine{UUID: "r2", MailboxID: 11, Health: model.HealthUnknown}
	store.mailboxes[11] = other
	store.routines["r2"] = otherRoutine

	if err := tr.RoutineSucceeded(otherRoutine, other, account); err != nil {
		t.Fatalf("RoutineSucceeded: %v", err)
	}

	if store.accounts[1].Health != model.HealthHealthy {
		t.Errorf("account health = %v, want healthy", store.accounts[1].Health)
	}
	if store.mailboxes[10].Health != model.HealthUnhealthy {
		t.Errorf("unrelated mailbox health = %v, want still unhealthy", store.mailboxes[10].Health)
	}
	if store.routines["r1"].Health != model.HealthUnhealthy {
		t.Errorf("unrelated routine health = %v, want still unhealthy", store.routines["r1"].Health)
	}

	_ = mailbox
	_ = routine
}

func TestTracker_RoutineCrashed_OnlyTouchesRoutine(t *testing.T) {
	tr, store := testTracker()
	account, mailbox, routine := seed(store)
	account.Health = model.HealthHealthy
	mailbox.Health = model.HealthHealthy
	store.accounts[1].Health = model.HealthHealthy
	store.mailboxes[10].Health = model.HealthHealthy

	if err := tr.RoutineCrashed(routine, "panic: nil pointer"); err != nil {
		t.Fatalf("RoutineCrashed: %v", err)
	}

	if store.routines["r1"].Health != model.HealthUnhealthy {
		t.Errorf("routine health = %v, want unhealthy", store.routines["r1"].Health)
	}
	if store.accounts[1].Health != model.HealthHealthy {
		t.Errorf("account health = %v, want untouched", store.accounts[1].Health)
	}
	if store.mailboxes[10].Health != model.HealthHealthy {
		t.Errorf("mailbox health = %v, want untouched", store.mailboxes[10].Health)
	}
}
