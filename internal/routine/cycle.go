package routine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/archivekeep/mailarchiver/internal/archive"
	"github.com/archivekeep/mailarchiver/internal/health"
	"github.com/archivekeep/mailarchiver/internal/mail"
	"github.com/archivekeep/mailarchiver/internal/model"
	"github.com/archivekeep/mailarchiver/internal/parser"
)

// CycleResult reports the outcome of one routine cycle, returned by
// Runner.Run for both scheduled and "test routine" one-shot invocations.
type CycleResult struct {
	Success       bool
	Archived      int
	Duplicate     int
	SpamDiscarded int
	Err           error
	// Crashed marks a cycle whose error is not a recognized
	// mail.AccountError/MailboxError/ValidationFailure — including a
	// fetcher that could not be constructed — and was recorded through
	// recordCrash, as opposed to a recognized failure, which is an
	// absorbed operational failure, not a crash. The scheduler backs off
	// only on Crashed cycles.
	Crashed bool
}

// Runner executes a single fetch-and-archive cycle for a routine: C2's
// Fetcher pulls messages matching the routine's criterion, C3's parser
// turns each into a ParsedEmail, C4's Writer archives it idempotently,
// and C8's Tracker records the health outcome. Grounded on spec.md
// §4.7's six-step cycle description.
type Runner struct {
	Store      *archive.Store
	Writer     *archive.Writer
	Health     *health.Tracker
	HTTPClient *http.Client
	Logger     *slog.Logger

	// AllowInsecureConnections is the process-wide ALLOW_INSECURE_CONNECTIONS
	// config flag (spec.md §6), ANDed with each account's own
	// AllowInsecureTLS flag in mail.NewFetcher.
	AllowInsecureConnections bool
}

// Run executes exactly one cycle for the routine identified by uuid,
// updating health flags and the routine's last-run stamp before
// returning. It is used both by the scheduler's per-routine ticks and
// by the synchronous "test routine" control.
func (r *Runner) Run(ctx context.Context, uuid string) CycleResult {
	routine, err := r.Store.GetRoutine(uuid)
	if err != nil {
		return CycleResult{Err: fmt.Errorf("load routine: %w", err)}
	}
	if routine == nil {
		return CycleResult{Err: fmt.Errorf("routine %s does not exist", uuid)}
	}

	mailbox, err := r.Store.GetMailbox(routine.MailboxID)
	if err != nil {
		return CycleResult{Err: fmt.Errorf("load mailbox: %w", err)}
	}
	if mailbox == nil {
		return CycleResult{Err: fmt.Errorf("mailbox %d does not exist", routine.MailboxID)}
	}

	account, err := r.Store.GetAccount(mailbox.AccountID)
	if err != nil {
		return CycleResult{Err: fmt.Errorf("load account: %w", err)}
	}
	if account == nil {
		return CycleResult{Err: fmt.Errorf("account %d does not exist", mailbox.AccountID)}
	}

	result := r.runCycle(ctx, routine, mailbox, account)

	now := time.Now()
	if err := r.Store.RecordRoutineRun(routine.UUID, now, result.Archived); err != nil {
		r.Logger.Error("record routine run failed", "uuid", routine.UUID, "error", err)
	}
	return result
}

func (r *Runner) runCycle(ctx context.Context, routine *model.Routine, mailbox *model.Mailbox, account *model.Account) CycleResult {
	fetcher, err := mail.NewFetcher(account, mailbox.RemoteName, r.AllowInsecureConnections, r.Logger, r.HTTPClient)
	if err != nil {
		r.recordCrash(routine, err)
		return CycleResult{Err: err, Crashed: true}
	}
	defer fetcher.Close()

	// Connect and fetch each get their own deadline from the account's
	// configured timeout rather than sharing one across the whole cycle,
	// since fetch of a large mailbox should not be bounded by how long
	// connect happened to take. The deadline reaches only what a fetcher
	// passes its context to: every HTTP call for JMAP and Exchange, the
	// dial and TLS handshake for POP3, and nothing for IMAP.
	connectCtx, cancelConnect := context.WithTimeout(ctx, account.Timeout())
	err = fetcher.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		return r.classifyAndRecord(routine, mailbox, account, err)
	}

	fetchCtx, cancelFetch := context.WithTimeout(ctx, account.Timeout())
	messages, err := fetcher.Fetch(fetchCtx, mailbox.RemoteName, routine.FetchingCriterion, routine.CriterionArg)
	cancelFetch()
	if err != nil {
		return r.classifyAndRecord(routine, mailbox, account, err)
	}

	var archived, duplicate, spamDiscarded int
	var archivedBytes uint64
	for _, msg := range messages {
		parsed, err := parser.Parse(r.Logger, msg.Raw, time.Now())
		if err != nil {
			r.Logger.Debug("skipping unparseable message", "routine", routine.UUID, "uid", msg.UID, "error", err)
			continue
		}

		writeResult, err := r.Writer.Write(account.OwnerID, mailbox, msg.Raw, parsed)
		if err != nil {
			r.Logger.Error("archive write failed", "routine", routine.UUID, "uid", msg.UID, "error", err)
			continue
		}

		switch writeResult.Outcome {
		case archive.OutcomeArchived:
			archived++
			if parsed.Size > 0 {
				archivedBytes += uint64(parsed.Size)
			}
		case archive.OutcomeDuplicate:
			duplicate++
		case archive.OutcomeSpamDiscard:
			spamDiscarded++
		}
	}

	// A cycle that reaches here succeeded at the protocol level even if
	// zero new messages were archived — spec.md §4.8 ties health to the
	// cycle's own success, not to message count.
	if err := r.Health.RoutineSucceeded(routine, mailbox, account); err != nil {
		r.Logger.Error("health update failed", "routine", routine.UUID, "error", err)
	}

	r.Logger.Info("cycle complete",
		"routine", routine.UUID,
		"archived", archived,
		"duplicate", duplicate,
		"spam_discarded", spamDiscarded,
		"archived_size", humanize.Bytes(archivedBytes),
	)

	return CycleResult{Success: true, Archived: archived, Duplicate: duplicate, SpamDiscarded: spamDiscarded}
}

// classifyAndRecord maps a Fetcher error to the health cascade spec.md
// §4.8 and §7 require: MailboxError downgrades mailbox+routine only,
// AccountError downgrades (and cascades from) the account,
// ValidationFailure affects neither, and anything else is an
// unexpected crash that only touches the routine.
func (r *Runner) classifyAndRecord(routine *model.Routine, mailbox *model.Mailbox, account *model.Account, err error) CycleResult {
	var mailboxErr *mail.MailboxError
	var accountErr *mail.AccountError
	var validationErr *mail.ValidationFailure

	switch {
	case errors.As(err, &mailboxErr):
		if herr := r.Health.MailboxFailed(routine, mailbox, err.Error()); herr != nil {
			r.Logger.Error("health update failed", "routine", routine.UUID, "error", herr)
		}
		return CycleResult{Err: err}
	case errors.As(err, &accountErr):
		if herr := r.Health.AccountFailed(account, err.Error()); herr != nil {
			r.Logger.Error("health update failed", "routine", routine.UUID, "error", herr)
		}
		return CycleResult{Err: err}
	case errors.As(err, &validationErr):
		r.Logger.Error("routine has an invalid criterion", "routine", routine.UUID, "error", err)
		return CycleResult{Err: err}
	default:
		r.recordCrash(routine, err)
		return CycleResult{Err: err, Crashed: true}
	}
}

func (r *Runner) recordCrash(routine *model.Routine, err error) {
	if herr := r.Health.RoutineCrashed(routine, err.Error()); herr != nil {
		r.Logger.Error("health update failed", "routine", routine.UUID, "error", herr)
	}
}
