package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	auth "github.com/microsoft/kiota-authentication-azure-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// exchangeScopes is the application-permission scope requested for the
// client-credential flow. Unlike outlook-assistant's delegated,
// interactive-browser login, a daemon has no user present to consent at
// runtime, so it authenticates as itself against a tenant-registered
// application and must be granted Mail.ReadWrite (application) admin
// consent ahead of time.
var exchangeScopes = []string{"https://graph.microsoft.com/.default"}

// ExchangeConfig holds the Azure AD application registration and the
// mailbox this fetcher operates against. Protocol is reported as
// model.ProtocolExchange; there is no TLS variant, Graph is always HTTPS.
type ExchangeConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Mailbox      string // UPN or object id of the mailbox being archived
}

// ExchangeFetcher implements Fetcher over Microsoft Graph, grounded on
// clear-route-agent-tools/outlook-assistant's auth and mail packages but
// adapted from delegated interactive login to application-only
// client-credential auth, since archiving runs unattended.
type ExchangeFetcher struct {
	cfg    ExchangeConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *msgraphsdk.GraphServiceClient
}

// NewExchangeFetcher creates an Exchange/Graph fetcher for the given
// mailbox.
func NewExchangeFetcher(cfg ExchangeConfig, logger *slog.Logger) *ExchangeFetcher {
	return &ExchangeFetcher{cfg: cfg, logger: logger}
}

func (f *ExchangeFetcher) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Safe(f.logger, "authenticate", KindAccount, func() error { return f.connectLocked(ctx) })
}

func (f *ExchangeFetcher) connectLocked(ctx context.Context) error {
	cred, err := azidentity.NewClientSecretCredential(f.cfg.TenantID, f.cfg.ClientID, f.cfg.ClientSecret, nil)
	if err != nil {
		return fmt.Errorf("creating client secret credential: %w", err)
	}

	tokenProvider, err := auth.NewAzureIdentityAuthenticationProviderWithScopes(cred, exchangeScopes)
	if err != nil {
		return fmt.Errorf("creating token provider: %w", err)
	}

	adapter, err := msgraphsdk.NewGraphRequestAdapter(tokenProvider)
	if err != nil {
		return fmt.Errorf("creating graph adapter: %w", err)
	}

	f.client = msgraphsdk.NewGraphServiceClient(adapter)
	f.logger.Info("Exchange connected", "tenant", f.cfg.TenantID, "mailbox", f.cfg.Mailbox)
	return nil
}

func (f *ExchangeFetcher) mailUser() *users.UserItemRequestBuilder {
	return f.client.Users().ByUserId(f.cfg.Mailbox)
}

func (f *ExchangeFetcher) Test(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Safe(f.logger, "profile", KindAccount, func() error {
		if f.client == nil {
			if err := f.connectLocked(ctx); err != nil {
				return err
			}
		}
		_, err := f.mailUser().Get(ctx, nil)
		return err
	})
}

func (f *ExchangeFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.client = nil // Graph is stateless HTTP, nothing to tear down
	return nil
}

func (f *ExchangeFetcher) ListMailboxes(ctx context.Context) ([]MailboxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		if err := f.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	top := int32(100)
	result, err := SafeValue(f.logger, "list folders", KindAccount, func() (users.ItemMailFoldersResponseable, error) {
		return f.mailUser().MailFolders().Get(ctx, &users.ItemMailFoldersRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMailFoldersRequestBuilderGetQueryParameters{
				Select: []string{"id", "displayName", "totalItemCount", "unreadItemCount"},
				Top:    &top,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	var infos []MailboxInfo
	for _, folder := range result.GetValue() {
		total, unread := 0, 0
		if folder.GetTotalItemCount() != nil {
			total = int(*folder.GetTotalItemCount())
		}
		if folder.GetUnreadItemCount() != nil {
			unread = int(*folder.GetUnreadItemCount())
		}
		name := derefStr(folder.GetDisplayName())
		infos = append(infos, MailboxInfo{
			Name:     name,
			Type:     mailboxTypeFromDisplayName(name),
			Messages: total,
			Unseen:   unread,
		})
	}
	return infos, nil
}

// mailboxTypeFromDisplayName normalizes Graph's well-known folder
// display names (no distinct "attribute" concept the way IMAP/JMAP have
// one) into the internal MailboxKind enum; anything else is custom.
func mailboxTypeFromDisplayName(name string) model.MailboxKind {
	switch strings.ToLower(strings.ReplaceAll(name, " ", "")) {
	case "inbox":
		return model.MailboxKindInbox
	case "sentitems":
		return model.MailboxKindSent
	case "drafts":
		return model.MailboxKindDrafts
	case "junkemail":
		return model.MailboxKindJunk
	case "deleteditems":
		return model.MailboxKindTrash
	case "archive":
		return model.MailboxKindArchive
	default:
		return model.MailboxKindCustom
	}
}

// resolveFolderID maps a mailbox display name onto its Graph folder id,
// accepting Graph's well-known folder names directly. Grounded on
// outlook-assistant/mail.resolveFolderID.
func (f *ExchangeFetcher) resolveFolderID(ctx context.Context, name string) (string, error) {
	wellKnown := map[string]bool{
		"inbox": true, "archive": true, "deleteditems": true,
		"drafts": true, "sentitems": true, "junkemail": true,
	}
	lower := strings.ToLower(strings.ReplaceAll(name, " ", ""))
	if wellKnown[lower] {
		return lower, nil
	}

	top := int32(100)
	result, err := f.mailUser().MailFolders().Get(ctx, &users.ItemMailFoldersRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersRequestBuilderGetQueryParameters{
			Select: []string{"id", "displayName"},
			Top:    &top,
		},
	})
	if err != nil {
		return "", err
	}
	for _, folder := range result.GetValue() {
		if strings.EqualFold(derefStr(folder.GetDisplayName()), name) {
			return derefStr(folder.GetId()), nil
		}
	}
	return "", fmt.Errorf("folder %q not found", name)
}

func (f *ExchangeFetcher) Fetch(ctx context.Context, mailbox string, criterion model.FetchingCriterion, arg string) ([]RemoteMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ValidateCriterion(model.ProtocolExchange, criterion, arg); err != nil {
		return nil, &ValidationFailure{Err: err}
	}

	if f.client == nil {
		if err := f.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	folderID, err := SafeValue(f.logger, "resolve folder", KindMailbox, func() (string, error) {
		return f.resolveFolderID(ctx, mailbox)
	})
	if err != nil {
		return nil, err
	}

	clause, err := odataFilter(Criterion{Tag: criterion, Arg: arg})
	if err != nil {
		return nil, &ValidationFailure{Err: err}
	}

	var filterPtr *string
	if clause != "" {
		filterPtr = &clause
	}

	top := int32(200)
	messages, err := SafeValue(f.logger, "list messages", KindMailbox, func() (users.ItemMailFoldersItemMessagesResponseable, error) {
		return f.mailUser().MailFolders().ByMailFolderId(folderID).Messages().Get(ctx,
			&users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
				QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
					Select:  []string{"id", "internetMessageId", "receivedDateTime"},
					Top:     &top,
					Filter:  filterPtr,
					Orderby: []string{"receivedDateTime asc"},
				},
			})
	})
	if err != nil {
		return nil, err
	}

	var result []RemoteMessage
	for _, msg := range messages.GetValue() {
		id := derefStr(msg.GetId())
		raw, err := f.downloadMIME(ctx, id)
		if err != nil {
			f.logger.Debug("MIME download failed, skipping message", "id", id, "error", err)
			continue
		}
		result = append(result, RemoteMessage{UID: id, Raw: raw, Size: int64(len(raw))})
	}
	return result, nil
}

// downloadMIME retrieves the full RFC 5322 representation of a message
// via Graph's $value content endpoint.
func (f *ExchangeFetcher) downloadMIME(ctx context.Context, messageID string) ([]byte, error) {
	reader, err := f.mailUser().Messages().ByMessageId(messageID).Content().Get(ctx, nil)
	if err != nil {
		return nil, err
	}
	return reader, nil
}

// Restore re-delivers a message into mailbox by creating it directly in
// the target folder via Graph's MIME-import shape, the closest Graph
// equivalent to IMAP APPEND.
func (f *ExchangeFetcher) Restore(ctx context.Context, mailbox string, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		if err := f.connectLocked(ctx); err != nil {
			return err
		}
	}

	folderID, err := f.resolveFolderID(ctx, mailbox)
	if err != nil {
		return &MailboxError{Op: "restore", Err: err}
	}

	return Safe(f.logger, "create message", KindMailbox, func() error {
		draft, err := f.mailUser().MailFolders().ByMailFolderId(folderID).Messages().Post(ctx, models.NewMessage(), nil)
		if err != nil {
			return err
		}
		// The typed SDK models a Message object field-by-field; the
		// draft's Content navigation property accepts the raw RFC 5322
		// bytes directly, which is how full-fidelity MIME restores avoid
		// re-deriving headers Graph would otherwise normalize away.
		return f.mailUser().Messages().ByMessageId(derefStr(draft.GetId())).Content().Put(ctx, raw, nil)
	})
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
