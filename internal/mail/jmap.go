package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// JMAPConfig holds the connection parameters for a JMAP account. JMAP is
// plain HTTPS (RFC 8620), so there is no separate TLS variant.
type JMAPConfig struct {
	SessionURL string // the well-known JMAP session endpoint
	Username   string
	Password   string
}

// jmapID is a JMAP identifier string, mirrored from the protocol types
// retrieved alongside this spec (RFC 8620 Section 1.2).
type jmapID = string

type jmapSession struct {
	APIURL          string                    `json:"apiUrl"`
	Accounts        map[jmapID]json.RawMessage `json:"accounts"`
	PrimaryAccounts map[string]jmapID         `json:"primaryAccounts"`
}

type jmapMailbox struct {
	ID           jmapID `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"` // RFC 8621 §2: "inbox", "sent", "drafts", "junk", "trash", "archive", or absent
	TotalEmails  uint32 `json:"totalEmails"`
	UnreadEmails uint32 `json:"unreadEmails"`
}

// mailboxTypeFromRole maps a JMAP Mailbox's role to the internal
// MailboxKind enum; an absent or unrecognized role is custom.
func mailboxTypeFromRole(role string) model.MailboxKind {
	switch strings.ToLower(role) {
	case "inbox":
		return model.MailboxKindInbox
	case "sent":
		return model.MailboxKindSent
	case "drafts":
		return model.MailboxKindDrafts
	case "junk":
		return model.MailboxKindJunk
	case "trash":
		return model.MailboxKindTrash
	case "archive":
		return model.MailboxKindArchive
	default:
		return model.MailboxKindCustom
	}
}

type jmapEmailAddress struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// jmapRequest/jmapResponse model the method-call envelope of RFC 8620
// §3.3 — an ordered list of [name, args, callID] triples in, the same
// shape back out.
type jmapInvocation [3]any

type jmapRequest struct {
	Using       []string         `json:"using"`
	MethodCalls []jmapInvocation `json:"methodCalls"`
}

type jmapResponse struct {
	MethodResponses []json.RawMessage `json:"methodResponses"`
}

const jmapCoreCapability = "urn:ietf:params:jmap:core"
const jmapMailCapability = "urn:ietf:params:jmap:mail"

// JMAPFetcher implements Fetcher over the JMAP wire protocol (RFC 8620 +
// RFC 8621) using plain net/http and encoding/json — no dedicated JMAP
// client library appears anywhere in the retrieved corpus, so this is
// grounded directly on the JMAP protocol's own type definitions rather
// than on a reference implementation.
type JMAPFetcher struct {
	cfg    JMAPConfig
	logger *slog.Logger
	client *http.Client

	mu        sync.Mutex
	session   *jmapSession
	accountID jmapID
}

// NewJMAPFetcher creates a JMAP fetcher for the given account.
func NewJMAPFetcher(cfg JMAPConfig, logger *slog.Logger, client *http.Client) *JMAPFetcher {
	return &JMAPFetcher{cfg: cfg, logger: logger, client: client}
}

func (f *JMAPFetcher) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Safe(f.logger, "session", KindAccount, func() error { return f.loadSessionLocked(ctx) })
}

func (f *JMAPFetcher) loadSessionLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.SessionURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(f.cfg.Username, f.cfg.Password)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JMAP session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JMAP session request returned %s", resp.Status)
	}

	var sess jmapSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("decode JMAP session: %w", err)
	}

	accountID, ok := sess.PrimaryAccounts[jmapMailCapability]
	if !ok {
		for id := range sess.Accounts {
			accountID = id
			break
		}
	}

	f.session = &sess
	f.accountID = accountID
	return nil
}

func (f *JMAPFetcher) ensureSession(ctx context.Context) error {
	if f.session != nil {
		return nil
	}
	return f.loadSessionLocked(ctx)
}

func (f *JMAPFetcher) Test(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Safe(f.logger, "session", KindAccount, func() error { return f.ensureSession(ctx) })
}

func (f *JMAPFetcher) Close() error {
	return nil // stateless HTTP, nothing to tear down
}

// call issues a single-method JMAP request and decodes the one response
// it expects back, per the [[name, args, "0"]] convention used
// throughout this client.
func (f *JMAPFetcher) call(ctx context.Context, method string, args any, out any) error {
	body := jmapRequest{
		Using:       []string{jmapCoreCapability, jmapMailCapability},
		MethodCalls: []jmapInvocation{{method, args, "0"}},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.session.APIURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(f.cfg.Username, f.cfg.Password)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("JMAP %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JMAP %s returned %s", method, resp.Status)
	}

	var parsed jmapResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode JMAP response: %w", err)
	}
	if len(parsed.MethodResponses) == 0 {
		return fmt.Errorf("JMAP %s: empty response", method)
	}

	var invocation [3]json.RawMessage
	if err := json.Unmarshal(parsed.MethodResponses[0], &invocation); err != nil {
		return fmt.Errorf("decode JMAP invocation: %w", err)
	}
	return json.Unmarshal(invocation[1], out)
}

func (f *JMAPFetcher) ListMailboxes(ctx context.Context) ([]MailboxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureSession(ctx); err != nil {
		return nil, err
	}

	var resp struct {
		List []jmapMailbox `json:"list"`
	}
	err := Safe(f.logger, "Mailbox/get", KindAccount, func() error {
		return f.call(ctx, "Mailbox/get", map[string]any{"accountId": f.accountID}, &resp)
	})
	if err != nil {
		return nil, err
	}

	result := make([]MailboxInfo, 0, len(resp.List))
	for _, m := range resp.List {
		result = append(result, MailboxInfo{
			Name:     m.Name,
			Type:     mailboxTypeFromRole(m.Role),
			Messages: int(m.TotalEmails),
			Unseen:   int(m.UnreadEmails),
		})
	}
	return result, nil
}

// resolveMailboxID looks up a mailbox's JMAP id by display name.
func (f *JMAPFetcher) resolveMailboxID(ctx context.Context, name string) (jmapID, error) {
	var resp struct {
		List []jmapMailbox `json:"list"`
	}
	if err := f.call(ctx, "Mailbox/get", map[string]any{"accountId": f.accountID}, &resp); err != nil {
		return "", err
	}
	for _, m := range resp.List {
		if m.Name == name {
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("mailbox %q not found", name)
}

func (f *JMAPFetcher) Fetch(ctx context.Context, mailbox string, criterion model.FetchingCriterion, arg string) ([]RemoteMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ValidateCriterion(model.ProtocolJMAP, criterion, arg); err != nil {
		return nil, &ValidationFailure{Err: err}
	}

	if err := f.ensureSession(ctx); err != nil {
		return nil, err
	}

	mailboxID, err := SafeValue(f.logger, "Mailbox/get", KindMailbox, func() (jmapID, error) {
		return f.resolveMailboxID(ctx, mailbox)
	})
	if err != nil {
		return nil, err
	}

	extra, err := jmapFilter(Criterion{Tag: criterion, Arg: arg})
	if err != nil {
		return nil, &ValidationFailure{Err: err}
	}

	filter := map[string]any{"inMailbox": mailboxID}
	for k, v := range extra {
		filter[k] = v
	}

	var queryResp struct {
		Ids []jmapID `json:"ids"`
	}
	err = Safe(f.logger, "Email/query", KindMailbox, func() error {
		return f.call(ctx, "Email/query", map[string]any{
			"accountId": f.accountID,
			"filter":    filter,
		}, &queryResp)
	})
	if err != nil {
		return nil, err
	}
	if len(queryResp.Ids) == 0 {
		return nil, nil
	}

	var getResp struct {
		List []struct {
			ID     jmapID `json:"id"`
			BlobID jmapID `json:"blobId"`
			Size   uint32 `json:"size"`
		} `json:"list"`
	}
	err = Safe(f.logger, "Email/get", KindMailbox, func() error {
		return f.call(ctx, "Email/get", map[string]any{
			"accountId":  f.accountID,
			"ids":        queryResp.Ids,
			"properties": []string{"id", "blobId", "size"},
		}, &getResp)
	})
	if err != nil {
		return nil, err
	}

	var messages []RemoteMessage
	for _, e := range getResp.List {
		raw, err := f.downloadBlob(ctx, e.BlobID)
		if err != nil {
			f.logger.Debug("blob download failed, skipping message", "id", e.ID, "error", err)
			continue
		}
		messages = append(messages, RemoteMessage{UID: e.ID, Raw: raw, Size: int64(len(raw))})
	}

	return messages, nil
}

func (f *JMAPFetcher) downloadBlob(ctx context.Context, blobID jmapID) ([]byte, error) {
	url := strings.NewReplacer(
		"{accountId}", f.accountID,
		"{blobId}", blobID,
		"{type}", "message/rfc822",
		"{name}", "message.eml",
	).Replace(f.session.APIURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(f.cfg.Username, f.cfg.Password)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob download returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Restore uploads raw as a blob and imports it into mailbox via
// Email/import, the JMAP equivalent of IMAP APPEND.
func (f *JMAPFetcher) Restore(ctx context.Context, mailbox string, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureSession(ctx); err != nil {
		return err
	}

	mailboxID, err := f.resolveMailboxID(ctx, mailbox)
	if err != nil {
		return &MailboxError{Op: "restore", Err: err}
	}

	uploadURL := strings.ReplaceAll(f.session.APIURL, "{accountId}", f.accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(raw))
	if err != nil {
		return &MailboxError{Op: "restore", Err: err}
	}
	req.Header.Set("Content-Type", "message/rfc822")
	req.SetBasicAuth(f.cfg.Username, f.cfg.Password)

	resp, err := f.client.Do(req)
	if err != nil {
		return &MailboxError{Op: "restore", Err: err}
	}
	defer resp.Body.Close()

	var uploaded struct {
		BlobID jmapID `json:"blobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return &MailboxError{Op: "restore", Err: err}
	}

	var importResp struct {
		Created map[string]json.RawMessage `json:"created"`
	}
	return Safe(f.logger, "Email/import", KindMailbox, func() error {
		return f.call(ctx, "Email/import", map[string]any{
			"accountId": f.accountID,
			"emails": map[string]any{
				"1": map[string]any{
					"blobId":     uploaded.BlobID,
					"mailboxIds": map[string]bool{mailboxID: true},
				},
			},
		}, &importResp)
	})
}

var _ = jmapEmailAddress{} // referenced by the protocol shape, unused directly here
