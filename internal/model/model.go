// Package model defines the persistent entities of the archive: accounts,
// the mailboxes fetched from them, the archived emails and attachments,
// correspondents, and the routines that drive fetching.
package model

import "time"

// Protocol identifies the wire protocol used to reach a mail account.
type Protocol string

const (
	ProtocolIMAP     Protocol = "IMAP"
	ProtocolIMAPTLS  Protocol = "IMAP_TLS"
	ProtocolPOP3     Protocol = "POP3"
	ProtocolPOP3TLS  Protocol = "POP3_TLS"
	ProtocolJMAP     Protocol = "JMAP"
	ProtocolExchange Protocol = "EXCHANGE"
)

// HealthState is the tri-state health of an account, mailbox, or routine.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// Account is a single set of credentials for a remote mail server. One
// account may expose several mailboxes (IMAP folders, a JMAP account's
// mailboxes, Exchange folders).
type Account struct {
	ID               int64       `json:"id"`
	OwnerID          string      `json:"owner_id"` // the user this account belongs to
	Name             string      `json:"name"`
	Protocol         Protocol    `json:"protocol"`
	Host             string      `json:"host"`
	Port             int         `json:"port"`
	Username         string      `json:"username"`
	Password         string      `json:"-"` // never serialized
	TimeoutSeconds   int         `json:"timeout_seconds"`    // per-operation deadline; 0 means DefaultTimeoutSeconds
	AllowInsecureTLS bool        `json:"allow_insecure_tls"` // only takes effect when config.AllowInsecureConnections is also true
	Health           HealthState `json:"health"`
	HealthError      string      `json:"health_error,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// DefaultTimeoutSeconds is used when Account.TimeoutSeconds is unset
// (zero), per spec §3's "timeout in seconds" attribute (default 10s per
// spec §5).
const DefaultTimeoutSeconds = 10

// Timeout returns the account's configured operation timeout, falling
// back to DefaultTimeoutSeconds when unset.
func (a *Account) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// MailboxKind is the normalized role of a remote folder, the closed set
// named in spec §3/§4.2: server-supplied attributes (IMAP \Junk, \Sent,
// \Drafts, ..., a JMAP Mailbox's role, an Exchange folder's
// display name) are mapped to one of these by each Fetcher.ListMailboxes
// implementation; anything unrecognized falls to MailboxKindCustom. The
// zero value, MailboxKindNormal, is used only for rows created before a
// type was known (e.g. a bare Maildir import) and is treated as custom
// everywhere except in test fixtures that don't care about type.
type MailboxKind string

const (
	MailboxKindNormal  MailboxKind = ""
	MailboxKindInbox   MailboxKind = "inbox"
	MailboxKindSent    MailboxKind = "sent"
	MailboxKindDrafts  MailboxKind = "drafts"
	MailboxKindJunk    MailboxKind = "junk"
	MailboxKindTrash   MailboxKind = "trash"
	MailboxKindArchive MailboxKind = "archive"
	MailboxKindCustom  MailboxKind = "custom"
)

// Mailbox is a single remote folder/label archived under an account.
type Mailbox struct {
	ID              int64       `json:"id"`
	AccountID       int64       `json:"account_id"`
	RemoteName      string      `json:"remote_name"` // e.g. "INBOX", "Archive/2024"
	Kind            MailboxKind `json:"kind,omitempty"`
	SaveToEML       bool        `json:"save_to_eml"`
	SaveAttachments bool        `json:"save_attachments"`
	ThrowOutSpam    bool        `json:"throw_out_spam"`
	Favorite        bool        `json:"favorite"`
	Health          HealthState `json:"health"`
	HealthError     string      `json:"health_error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// FetchingCriterion selects which messages a routine pulls on each cycle,
// the closed set named in spec §6. Tags suffixed "<arg>" in the spec
// (Subject/Body/From/Keyword/Unkeyword/Larger/Smaller/SentSince) require
// a non-empty Routine.CriterionArg; the rest take none.
type FetchingCriterion string

const (
	CriterionAll        FetchingCriterion = "ALL"
	CriterionUnseen     FetchingCriterion = "UNSEEN"
	CriterionSeen       FetchingCriterion = "SEEN"
	CriterionRecent     FetchingCriterion = "RECENT"
	CriterionNew        FetchingCriterion = "NEW"
	CriterionOld        FetchingCriterion = "OLD"
	CriterionFlagged    FetchingCriterion = "FLAGGED"
	CriterionUnflagged  FetchingCriterion = "UNFLAGGED"
	CriterionDraft      FetchingCriterion = "DRAFT"
	CriterionUndraft    FetchingCriterion = "UNDRAFT"
	CriterionDeleted    FetchingCriterion = "DELETED"
	CriterionUndeleted  FetchingCriterion = "UNDELETED"
	CriterionAnswered   FetchingCriterion = "ANSWERED"
	CriterionUnanswered FetchingCriterion = "UNANSWERED"
	CriterionSubject    FetchingCriterion = "SUBJECT"
	CriterionBody       FetchingCriterion = "BODY"
	CriterionFrom       FetchingCriterion = "FROM"
	CriterionKeyword    FetchingCriterion = "KEYWORD"
	CriterionUnkeyword  FetchingCriterion = "UNKEYWORD"
	CriterionLarger     FetchingCriterion = "LARGER"
	CriterionSmaller    FetchingCriterion = "SMALLER"
	CriterionDaily      FetchingCriterion = "DAILY"
	CriterionWeekly     FetchingCriterion = "WEEKLY"
	CriterionMonthly    FetchingCriterion = "MONTHLY"
	CriterionAnnually   FetchingCriterion = "ANNUALLY"
	CriterionSentSince  FetchingCriterion = "SENTSINCE"
)

// ArgCriteria is the subset of FetchingCriterion that require a non-empty
// Routine.CriterionArg, per spec §6 ("criteria ending in <arg>").
var ArgCriteria = map[FetchingCriterion]bool{
	CriterionSubject:   true,
	CriterionBody:      true,
	CriterionFrom:      true,
	CriterionKeyword:   true,
	CriterionUnkeyword: true,
	CriterionLarger:    true,
	CriterionSmaller:   true,
	CriterionSentSince: true,
}

// Routine is a durable, scheduled fetch job bound to one mailbox.
type Routine struct {
	UUID              string            `json:"uuid"`
	MailboxID         int64             `json:"mailbox_id"`
	Interval          time.Duration     `json:"interval"`
	FetchingCriterion FetchingCriterion `json:"fetching_criterion"`
	CriterionArg      string            `json:"criterion_arg,omitempty"` // e.g. an RFC 3339 or YYYY-MM-DD date for SENTSINCE
	Enabled           bool              `json:"enabled"`
	Health            HealthState       `json:"health"`
	HealthError       string            `json:"health_error,omitempty"`
	LastRunAt         time.Time         `json:"last_run_at,omitempty"`
	LastRunMessages   int               `json:"last_run_messages,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Correspondent is a deduplicated email address owned by a user. The same
// address used by two different owners is two distinct Correspondent rows
// — addresses are not shared across tenants.
type Correspondent struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Address     string    `json:"address"`
	DisplayName string    `json:"display_name,omitempty"` // captured from headers
	RealName    string    `json:"real_name,omitempty"`     // user-supplied, never overwritten by header parsing
	Favorite    bool      `json:"favorite"`
	ListServ    ListServ  `json:"list_serv,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListServ captures the List-* headers (RFC 2369/2919) of a mailing-list
// correspondent, when present.
type ListServ struct {
	ID            string `json:"id,omitempty"`
	Owner         string `json:"owner,omitempty"`
	Subscribe     string `json:"subscribe,omitempty"`
	Unsubscribe   string `json:"unsubscribe,omitempty"`
	Post          string `json:"post,omitempty"`
	Help          string `json:"help,omitempty"`
	Archive       string `json:"archive,omitempty"`
	UnsubscribePost string `json:"unsubscribe_post,omitempty"`
}

// IsZero reports whether no List-* header was captured.
func (l ListServ) IsZero() bool { return l == ListServ{} }

// CorrespondentRole is the role a correspondent plays on a given email.
type CorrespondentRole string

const (
	RoleFrom        CorrespondentRole = "from"
	RoleTo          CorrespondentRole = "to"
	RoleCc          CorrespondentRole = "cc"
	RoleBcc         CorrespondentRole = "bcc"
	RoleReplyTo     CorrespondentRole = "reply-to"
	RoleSender      CorrespondentRole = "sender"
	RoleReturnPath  CorrespondentRole = "return-path"
	RoleEnvelopeTo  CorrespondentRole = "envelope-to"
)

// EmailCorrespondent is the join between an archived Email and the
// Correspondents involved in it, tagged with their role.
type EmailCorrespondent struct {
	EmailID         int64             `json:"email_id"`
	CorrespondentID int64             `json:"correspondent_id"`
	Role            CorrespondentRole `json:"role"`
}

// Email is one archived message. BlobPath points into the content-addressed
// blob store (see internal/archive/blobstore.go) where the raw RFC 5322
// bytes live; rows here hold only metadata needed for lookup and dedup.
type Email struct {
	ID          int64     `json:"id"`
	MailboxID   int64     `json:"mailbox_id"`
	MessageID   string    `json:"message_id"` // RFC 5322 Message-ID, normalized
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	BlobPath    string    `json:"blob_path"`
	Size        int64     `json:"size"`
	References  []string  `json:"references,omitempty"`
	InReplyTo   string    `json:"in_reply_to,omitempty"`
	IsSpam      bool      `json:"is_spam"`      // derived from X-Spam-Flag, regardless of whether it was discarded
	Favorite    bool      `json:"favorite"`
	CreatedAt   time.Time `json:"created_at"`
}

// Attachment is one MIME part of an archived Email stored separately in
// the blob store under its own content hash.
type Attachment struct {
	ID                 int64  `json:"id"`
	EmailID            int64  `json:"email_id"`
	Filename           string `json:"filename"`
	ContentType        string `json:"content_type"` // "maintype/subtype"
	ContentDisposition string `json:"content_disposition,omitempty"`
	ContentID          string `json:"content_id,omitempty"` // with angle brackets preserved
	BlobPath           string `json:"blob_path,omitempty"`
	Favorite           bool   `json:"favorite"`
	Size               int64  `json:"size"`
}
