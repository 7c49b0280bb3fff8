package mail

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// Criterion is the compiled, protocol-neutral description of what Fetch
// should retrieve: a fetching-criterion tag plus its optional argument,
// taken verbatim from the owning Routine. Each protocol's Fetch
// implementation turns this into its own native query via the compile
// helpers below.
type Criterion struct {
	Tag model.FetchingCriterion
	Arg string
}

// imapFlagCriteria covers every spec §6 tag that compiles to a single
// IMAP SEARCH flag/not-flag pair: [0] is the NotFlag to add, [1] the
// Flag to add ("" means none).
var imapFlagCriteria = map[model.FetchingCriterion][2]imap.Flag{
	model.CriterionUnseen:     {imap.FlagSeen, ""},
	model.CriterionSeen:       {"", imap.FlagSeen},
	model.CriterionFlagged:    {"", imap.FlagFlagged},
	model.CriterionUnflagged:  {imap.FlagFlagged, ""},
	model.CriterionDraft:      {"", imap.FlagDraft},
	model.CriterionUndraft:    {imap.FlagDraft, ""},
	model.CriterionDeleted:    {"", imap.FlagDeleted},
	model.CriterionUndeleted:  {imap.FlagDeleted, ""},
	model.CriterionAnswered:   {"", imap.FlagAnswered},
	model.CriterionUnanswered: {imap.FlagAnswered, ""},
}

// AvailableFetchingCriteria returns the subset of FetchingCriterion each
// protocol supports, per spec §4.2's compilation table and §6's
// available_fetching_criteria contract. Routine creation must reject any
// criterion outside this set for the mailbox's account protocol (spec
// §3's Routine invariant).
func AvailableFetchingCriteria(protocol model.Protocol) map[model.FetchingCriterion]bool {
	switch protocol {
	case model.ProtocolPOP3, model.ProtocolPOP3TLS:
		// POP3 has neither folders nor flags; only a full enumeration of
		// the single spool is meaningful (spec §4.2 "POP3 specifics").
		return map[model.FetchingCriterion]bool{model.CriterionAll: true}
	case model.ProtocolJMAP:
		return map[model.FetchingCriterion]bool{
			model.CriterionAll:        true,
			model.CriterionUnseen:     true,
			model.CriterionSeen:       true,
			model.CriterionFlagged:    true,
			model.CriterionUnflagged:  true,
			model.CriterionDraft:      true,
			model.CriterionUndraft:    true,
			model.CriterionAnswered:   true,
			model.CriterionUnanswered: true,
			model.CriterionSubject:    true,
			model.CriterionBody:       true,
			model.CriterionFrom:       true,
			model.CriterionLarger:     true,
			model.CriterionSmaller:    true,
			model.CriterionDaily:      true,
			model.CriterionWeekly:     true,
			model.CriterionMonthly:    true,
			model.CriterionAnnually:   true,
			model.CriterionSentSince:  true,
		}
	case model.ProtocolIMAP, model.ProtocolIMAPTLS, model.ProtocolExchange:
		// Exchange is specified as IMAP-equivalent pending a concrete
		// Exchange-native criteria surface (spec.md Open Questions).
		// The Exchange fetcher's Graph compiler (odataFilter) handles
		// only part of this set; for the other tags its Fetch returns a
		// *ValidationFailure.
		return map[model.FetchingCriterion]bool{
			model.CriterionAll:        true,
			model.CriterionUnseen:     true,
			model.CriterionSeen:       true,
			model.CriterionRecent:     true,
			model.CriterionNew:        true,
			model.CriterionOld:        true,
			model.CriterionFlagged:    true,
			model.CriterionUnflagged:  true,
			model.CriterionDraft:      true,
			model.CriterionUndraft:    true,
			model.CriterionDeleted:    true,
			model.CriterionUndeleted:  true,
			model.CriterionAnswered:   true,
			model.CriterionUnanswered: true,
			model.CriterionSubject:    true,
			model.CriterionBody:       true,
			model.CriterionFrom:       true,
			model.CriterionKeyword:    true,
			model.CriterionUnkeyword:  true,
			model.CriterionLarger:     true,
			model.CriterionSmaller:    true,
			model.CriterionDaily:      true,
			model.CriterionWeekly:     true,
			model.CriterionMonthly:    true,
			model.CriterionAnnually:   true,
			model.CriterionSentSince:  true,
		}
	default:
		return nil
	}
}

// ValidateCriterion rejects any (protocol, tag, arg) combination the
// routine surface must filter out at creation time (spec §4.2: "they
// must be filtered out at routine-creation time"), and is re-checked
// defensively by every Fetch implementation before compiling a query.
func ValidateCriterion(protocol model.Protocol, tag model.FetchingCriterion, arg string) error {
	available := AvailableFetchingCriteria(protocol)
	if !available[tag] {
		return fmt.Errorf("criterion %s is not supported by protocol %s", tag, protocol)
	}
	if model.ArgCriteria[tag] && strings.TrimSpace(arg) == "" {
		return fmt.Errorf("criterion %s requires a non-empty argument", tag)
	}
	return nil
}

// periodStart resolves DAILY/WEEKLY/MONTHLY/ANNUALLY/SENTSINCE into an
// absolute "on or after" instant. DAILY/WEEKLY/MONTHLY/ANNUALLY measure
// back from now by the named period; SENTSINCE parses its argument as an
// RFC 3339 or bare date, matching the "date parsed from argument" rule
// of spec §4.2's compilation table.
func periodStart(tag model.FetchingCriterion, arg string, now time.Time) (time.Time, error) {
	switch tag {
	case model.CriterionDaily:
		return now.AddDate(0, 0, -1), nil
	case model.CriterionWeekly:
		return now.AddDate(0, 0, -7), nil
	case model.CriterionMonthly:
		return now.AddDate(0, -1, 0), nil
	case model.CriterionAnnually:
		return now.AddDate(-1, 0, 0), nil
	case model.CriterionSentSince:
		if t, err := time.Parse(time.RFC3339, arg); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02", arg); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("SENTSINCE argument %q is not a parseable date", arg)
	default:
		return time.Time{}, fmt.Errorf("%s has no period", tag)
	}
}

// imapSearchCriteria turns a Criterion into a go-imap/v2 SEARCH criteria
// object, covering the full IMAP4rev1 SEARCH keyword table. Grounded on
// internal/email/list.go's ListMessages, which builds the same shape of
// *imap.SearchCriteria for an "unseen" list option; extended here to
// the rest of the keyword table that original caller never needed.
func imapSearchCriteria(c Criterion) (*imap.SearchCriteria, error) {
	criteria := &imap.SearchCriteria{}

	if flags, ok := imapFlagCriteria[c.Tag]; ok {
		if flags[0] != "" {
			criteria.NotFlag = append(criteria.NotFlag, flags[0])
		}
		if flags[1] != "" {
			criteria.Flag = append(criteria.Flag, flags[1])
		}
		return criteria, nil
	}

	switch c.Tag {
	case model.CriterionAll:
		// No restriction: SEARCH ALL.
	case model.CriterionRecent:
		criteria.Flag = append(criteria.Flag, imap.FlagRecent)
	case model.CriterionNew:
		criteria.Flag = append(criteria.Flag, imap.FlagRecent)
		criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
	case model.CriterionOld:
		criteria.NotFlag = append(criteria.NotFlag, imap.FlagRecent)
	case model.CriterionSubject:
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: c.Arg})
	case model.CriterionFrom:
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: c.Arg})
	case model.CriterionBody:
		criteria.Body = append(criteria.Body, c.Arg)
	case model.CriterionKeyword:
		criteria.Keyword = append(criteria.Keyword, c.Arg)
	case model.CriterionUnkeyword:
		criteria.NotKeyword = append(criteria.NotKeyword, c.Arg)
	case model.CriterionLarger:
		n, err := strconv.ParseInt(c.Arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("LARGER argument %q is not an integer: %w", c.Arg, err)
		}
		criteria.Larger = n
	case model.CriterionSmaller:
		n, err := strconv.ParseInt(c.Arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("SMALLER argument %q is not an integer: %w", c.Arg, err)
		}
		criteria.Smaller = n
	case model.CriterionDaily, model.CriterionWeekly, model.CriterionMonthly, model.CriterionAnnually, model.CriterionSentSince:
		since, err := periodStart(c.Tag, c.Arg, time.Now())
		if err != nil {
			return nil, err
		}
		criteria.Since = since
	default:
		return nil, fmt.Errorf("criterion %s has no IMAP compilation", c.Tag)
	}

	return criteria, nil
}

// jmapFilter compiles a Criterion into a JMAP Email/query filter object
// per RFC 8621 §4.4.1's FilterCondition shape, matching the subset of
// spec §4.2's "JMAP filter" column that JMAP's filter language can
// express directly.
func jmapFilter(c Criterion) (map[string]any, error) {
	filter := map[string]any{}

	switch c.Tag {
	case model.CriterionAll:
	case model.CriterionUnseen:
		filter["notKeyword"] = "$seen"
	case model.CriterionSeen:
		filter["hasKeyword"] = "$seen"
	case model.CriterionFlagged:
		filter["hasKeyword"] = "$flagged"
	case model.CriterionUnflagged:
		filter["notKeyword"] = "$flagged"
	case model.CriterionDraft:
		filter["hasKeyword"] = "$draft"
	case model.CriterionUndraft:
		filter["notKeyword"] = "$draft"
	case model.CriterionAnswered:
		filter["hasKeyword"] = "$answered"
	case model.CriterionUnanswered:
		filter["notKeyword"] = "$answered"
	case model.CriterionSubject:
		filter["subject"] = c.Arg
	case model.CriterionBody:
		filter["body"] = c.Arg
	case model.CriterionFrom:
		filter["from"] = c.Arg
	case model.CriterionLarger:
		n, err := strconv.ParseInt(c.Arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("LARGER argument %q is not an integer: %w", c.Arg, err)
		}
		filter["minSize"] = n
	case model.CriterionSmaller:
		n, err := strconv.ParseInt(c.Arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("SMALLER argument %q is not an integer: %w", c.Arg, err)
		}
		filter["maxSize"] = n
	case model.CriterionDaily, model.CriterionWeekly, model.CriterionMonthly, model.CriterionAnnually, model.CriterionSentSince:
		since, err := periodStart(c.Tag, c.Arg, time.Now())
		if err != nil {
			return nil, err
		}
		filter["after"] = since.UTC().Format("2006-01-02T15:04:05Z")
	default:
		return nil, fmt.Errorf("criterion %s has no JMAP compilation", c.Tag)
	}

	return filter, nil
}

// odataFilter compiles a Criterion into a Microsoft Graph $filter clause
// for the Exchange fetcher. Only ALL, UNSEEN, SEEN, FLAGGED, UNFLAGGED,
// SUBJECT, FROM, DAILY, WEEKLY, MONTHLY, ANNUALLY and SENTSINCE compile;
// every other tag returns an error, even those AvailableFetchingCriteria
// lists for Exchange.
func odataFilter(c Criterion) (string, error) {
	switch c.Tag {
	case model.CriterionAll:
		return "", nil
	case model.CriterionUnseen:
		return "isRead eq false", nil
	case model.CriterionSeen:
		return "isRead eq true", nil
	case model.CriterionFlagged:
		return "flag/flagStatus eq 'flagged'", nil
	case model.CriterionUnflagged:
		return "flag/flagStatus ne 'flagged'", nil
	case model.CriterionSubject:
		return fmt.Sprintf("contains(subject,'%s')", escapeOData(c.Arg)), nil
	case model.CriterionFrom:
		return fmt.Sprintf("from/emailAddress/address eq '%s'", escapeOData(c.Arg)), nil
	case model.CriterionDaily, model.CriterionWeekly, model.CriterionMonthly, model.CriterionAnnually, model.CriterionSentSince:
		since, err := periodStart(c.Tag, c.Arg, time.Now())
		if err != nil {
			return "", err
		}
		return "receivedDateTime ge " + since.UTC().Format("2006-01-02T15:04:05Z"), nil
	default:
		return "", fmt.Errorf("criterion %s has no Graph compilation", c.Tag)
	}
}

func escapeOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
