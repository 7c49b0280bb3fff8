package mail

import (
	"testing"
	"time"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// allCriteria lists every FetchingCriterion tag spec.md §6 enumerates, in
// declaration order, so tests below can walk the full table.
var allCriteria = []model.FetchingCriterion{
	model.CriterionAll, model.CriterionUnseen, model.CriterionSeen,
	model.CriterionRecent, model.CriterionNew, model.CriterionOld,
	model.CriterionFlagged, model.CriterionUnflagged,
	model.CriterionDraft, model.CriterionUndraft,
	model.CriterionDeleted, model.CriterionUndeleted,
	model.CriterionAnswered, model.CriterionUnanswered,
	model.CriterionSubject, model.CriterionBody, model.CriterionFrom,
	model.CriterionKeyword, model.CriterionUnkeyword,
	model.CriterionLarger, model.CriterionSmaller,
	model.CriterionDaily, model.CriterionWeekly,
	model.CriterionMonthly, model.CriterionAnnually,
	model.CriterionSentSince,
}

// argFor returns a valid non-empty argument for criteria that need one,
// and "" for those that don't.
func argFor(tag model.FetchingCriterion) string {
	switch tag {
	case model.CriterionSubject, model.CriterionBody, model.CriterionFrom,
		model.CriterionKeyword, model.CriterionUnkeyword:
		return "hello"
	case model.CriterionLarger, model.CriterionSmaller:
		return "1024"
	case model.CriterionSentSince:
		return "2024-01-15"
	default:
		return ""
	}
}

// TestAvailableFetchingCriteria_POP3HasOnlyAll checks spec §4.2's "POP3
// specifics": no folders, no flags, no search — full enumeration only.
func TestAvailableFetchingCriteria_POP3HasOnlyAll(t *testing.T) {
	for _, protocol := range []model.Protocol{model.ProtocolPOP3, model.ProtocolPOP3TLS} {
		available := AvailableFetchingCriteria(protocol)
		if len(available) != 1 || !available[model.CriterionAll] {
			t.Fatalf("protocol %s: want only ALL, got %v", protocol, available)
		}
	}
}

// TestAvailableFetchingCriteria_ExchangeMatchesIMAP covers the Open
// Question resolution in DESIGN.md: Exchange is IMAP-equivalent.
func TestAvailableFetchingCriteria_ExchangeMatchesIMAP(t *testing.T) {
	imapSet := AvailableFetchingCriteria(model.ProtocolIMAP)
	exchangeSet := AvailableFetchingCriteria(model.ProtocolExchange)
	if len(imapSet) != len(exchangeSet) {
		t.Fatalf("IMAP has %d criteria, Exchange has %d; want equal", len(imapSet), len(exchangeSet))
	}
	for tag := range imapSet {
		if !exchangeSet[tag] {
			t.Errorf("Exchange missing IMAP-available criterion %s", tag)
		}
	}
}

// TestValidateCriterion_RejectsUnsupportedCombination covers spec §4.2's
// "SUBJECT on POP3 fails fast with a value error" example directly.
func TestValidateCriterion_RejectsUnsupportedCombination(t *testing.T) {
	if err := ValidateCriterion(model.ProtocolPOP3, model.CriterionSubject, "hello"); err == nil {
		t.Fatal("want error for SUBJECT on POP3, got nil")
	}
}

// TestValidateCriterion_RejectsMissingArg covers the "<arg> requires a
// non-empty argument" rule of spec §6.
func TestValidateCriterion_RejectsMissingArg(t *testing.T) {
	if err := ValidateCriterion(model.ProtocolIMAP, model.CriterionSubject, ""); err == nil {
		t.Fatal("want error for SUBJECT with empty arg, got nil")
	}
	if err := ValidateCriterion(model.ProtocolIMAP, model.CriterionSubject, "  "); err == nil {
		t.Fatal("want error for SUBJECT with whitespace-only arg, got nil")
	}
}

// TestCriterionCompile_IMAPReversibility is the IMAP half of spec §8's
// "Criterion compile reversibility" testable property: for every
// (tag, arg) pair IMAP's available set accepts, compiling must succeed
// and return a non-nil criteria object.
func TestCriterionCompile_IMAPReversibility(t *testing.T) {
	available := AvailableFetchingCriteria(model.ProtocolIMAP)
	for _, tag := range allCriteria {
		if !available[tag] {
			continue
		}
		arg := argFor(tag)
		if err := ValidateCriterion(model.ProtocolIMAP, tag, arg); err != nil {
			t.Fatalf("tag %s: ValidateCriterion rejected a supported criterion: %v", tag, err)
		}
		criteria, err := imapSearchCriteria(Criterion{Tag: tag, Arg: arg})
		if err != nil {
			t.Errorf("tag %s: imapSearchCriteria failed: %v", tag, err)
			continue
		}
		if criteria == nil {
			t.Errorf("tag %s: imapSearchCriteria returned nil criteria", tag)
		}
	}
}

// TestCriterionCompile_JMAPReversibility is the JMAP half of the same
// property, over JMAP's narrower available set.
func TestCriterionCompile_JMAPReversibility(t *testing.T) {
	available := AvailableFetchingCriteria(model.ProtocolJMAP)
	for _, tag := range allCriteria {
		if !available[tag] {
			continue
		}
		arg := argFor(tag)
		filter, err := jmapFilter(Criterion{Tag: tag, Arg: arg})
		if err != nil {
			t.Errorf("tag %s: jmapFilter failed: %v", tag, err)
			continue
		}
		if tag != model.CriterionAll && len(filter) == 0 {
			t.Errorf("tag %s: jmapFilter returned an empty filter", tag)
		}
	}
}

// TestCriterionCompile_ExchangeReversibility mirrors the above for the
// Graph $filter compiler, over Exchange's IMAP-equivalent available set
// restricted to the subset odataFilter actually implements.
func TestCriterionCompile_ExchangeReversibility(t *testing.T) {
	supported := []model.FetchingCriterion{
		model.CriterionAll, model.CriterionUnseen, model.CriterionSeen,
		model.CriterionFlagged, model.CriterionUnflagged,
		model.CriterionSubject, model.CriterionFrom,
		model.CriterionDaily, model.CriterionWeekly,
		model.CriterionMonthly, model.CriterionAnnually, model.CriterionSentSince,
	}
	for _, tag := range supported {
		arg := argFor(tag)
		if _, err := odataFilter(Criterion{Tag: tag, Arg: arg}); err != nil {
			t.Errorf("tag %s: odataFilter failed: %v", tag, err)
		}
	}
}

// TestCriterionCompile_LargerSmallerRejectNonInteger covers the LARGER/
// SMALLER "size filter" row of spec §4.2's table: the argument must be
// an integer byte count.
func TestCriterionCompile_LargerSmallerRejectNonInteger(t *testing.T) {
	for _, tag := range []model.FetchingCriterion{model.CriterionLarger, model.CriterionSmaller} {
		if _, err := imapSearchCriteria(Criterion{Tag: tag, Arg: "not-a-number"}); err == nil {
			t.Errorf("tag %s: want error compiling non-integer argument, got nil", tag)
		}
	}
}

// TestCriterionCompile_SentSinceRejectsUnparseableDate covers the
// SENTSINCE "date parsed from argument" rule.
func TestCriterionCompile_SentSinceRejectsUnparseableDate(t *testing.T) {
	if _, err := imapSearchCriteria(Criterion{Tag: model.CriterionSentSince, Arg: "not-a-date"}); err == nil {
		t.Fatal("want error compiling unparseable SENTSINCE date, got nil")
	}
}

// TestCriterionCompile_PeriodsAreBeforeNow checks that WEEKLY, standing
// in for DAILY/WEEKLY/MONTHLY/ANNUALLY, resolves to a non-zero Since
// strictly before the current instant, per spec §4.2's "today - period"
// description.
func TestCriterionCompile_PeriodsAreBeforeNow(t *testing.T) {
	criteria, err := imapSearchCriteria(Criterion{Tag: model.CriterionWeekly})
	if err != nil {
		t.Fatalf("WEEKLY: %v", err)
	}
	if criteria.Since.IsZero() {
		t.Fatal("WEEKLY: want a non-zero Since instant")
	}
	if !criteria.Since.Before(time.Now()) {
		t.Errorf("WEEKLY: Since = %v, want before now", criteria.Since)
	}
}
