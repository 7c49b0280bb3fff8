package routine

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/archivekeep/mailarchiver/internal/archive"
	"github.com/archivekeep/mailarchiver/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *archive.Store {
	t.Helper()
	store, err := archive.NewStore(filepath.Join(t.TempDir(), "archive.db"), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedMailbox(t *testing.T, store *archive.Store, protocol model.Protocol) int64 {
	t.Helper()
	accountID, err := store.CreateAccount(&model.Account{
		OwnerID: "owner-1", Name: "test", Protocol: protocol, Host: "localhost", Port: 143, Username: "u", Password: "p",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	mailboxID, err := store.CreateMailbox(&model.Mailbox{AccountID: accountID, RemoteName: "INBOX"})
	if err != nil {
		t.Fatalf("CreateMailbox: %v", err)
	}
	return mailboxID
}

func TestRegistry_Register_AssignsUUIDAndPersists(t *testing.T) {
	store := newTestStore(t)
	mailboxID := seedMailbox(t, store, model.ProtocolIMAP)
	reg := NewRegistry(store)

	routine := &model.Routine{MailboxID: mailboxID, FetchingCriterion: model.CriterionAll, Interval: time.Minute, Enabled: true}
	if err := reg.Register(routine); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if routine.UUID == "" {
		t.Fatal("expected a generated UUID")
	}

	loaded, err := reg.Get(routine.UUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded == nil {
		t.Fatal("routine not persisted")
	}
	if loaded.FetchingCriterion != model.CriterionAll {
		t.Errorf("FetchingCriterion = %q, want ALL", loaded.FetchingCriterion)
	}
}

func TestRegistry_Register_RejectsCriterionUnsupportedByProtocol(t *testing.T) {
	store := newTestStore(t)
	mailboxID := seedMailbox(t, store, model.ProtocolPOP3)
	reg := NewRegistry(store)

	routine := &model.Routine{MailboxID: mailboxID, FetchingCriterion: model.CriterionSubject, CriterionArg: "invoice", Interval: time.Minute, Enabled: true}
	if err := reg.Register(routine); err == nil {
		t.Fatal("expected an error registering SUBJECT on a POP3 mailbox")
	}
}

func TestRegistry_Healthcheck_DetectsMismatch(t *testing.T) {
	store := newTestStore(t)
	mailboxID := seedMailbox(t, store, model.ProtocolIMAP)
	reg := NewRegistry(store)

	routine := &model.Routine{MailboxID: mailboxID, FetchingCriterion: model.CriterionAll, Interval: time.Minute, Enabled: true}
	if err := reg.Register(routine); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ok, err := reg.Healthcheck()
	if err != nil {
		t.Fatalf("Healthcheck: %v", err)
	}
	if ok {
		t.Error("expected mismatch: routine is enabled but no worker has been marked running")
	}

	reg.MarkRunning(routine.UUID)
	ok, err = reg.Healthcheck()
	if err != nil {
		t.Fatalf("Healthcheck: %v", err)
	}
	if !ok {
		t.Error("expected match after MarkRunning")
	}
}

func TestRegistry_Unregister_ClearsRunningState(t *testing.T) {
	store := newTestStore(t)
	mailboxID := seedMailbox(t, store, model.ProtocolIMAP)
	reg := NewRegistry(store)

	routine := &model.Routine{MailboxID: mailboxID, FetchingCriterion: model.CriterionAll, Interval: time.Minute, Enabled: true}
	if err := reg.Register(routine); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.MarkRunning(routine.UUID)

	if err := reg.Unregister(routine.UUID); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if reg.IsRunning(routine.UUID) {
		t.Error("expected running state cleared after Unregister")
	}
	loaded, err := reg.Get(routine.UUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded != nil {
		t.Error("expected routine deleted")
	}
}
