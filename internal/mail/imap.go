package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// IMAPConfig holds the connection parameters for an IMAP or IMAP_TLS
// account. Grounded on internal/email.IMAPConfig.
type IMAPConfig struct {
	Host             string
	Port             int
	Username         string
	Password         string
	TLS              bool
	Timeout          time.Duration // the account's per-operation timeout; IMAPFetcher does not apply it (dial, login and commands run without a deadline)
	AllowInsecureTLS bool          // relaxes certificate verification, gated by config.AllowInsecureConnections at the call site
}

// IMAPFetcher is a single-account IMAP client implementing Fetcher. It
// wraps go-imap/v2 with a mutex-serialized connection, matching
// internal/email.Client's connect-lazily, ensureConnected,
// reconnect-on-stale-NOOP pattern.
type IMAPFetcher struct {
	cfg    IMAPConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewIMAPFetcher creates an IMAP fetcher for the given account.
func NewIMAPFetcher(cfg IMAPConfig, logger *slog.Logger) *IMAPFetcher {
	return &IMAPFetcher{cfg: cfg, logger: logger}
}

func (f *IMAPFetcher) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Safe(f.logger, "connect", KindAccount, func() error { return f.connectLocked(ctx) })
}

func (f *IMAPFetcher) connectLocked(_ context.Context) error {
	if f.client != nil {
		_ = f.client.Close()
		f.client = nil
	}

	addr := net.JoinHostPort(f.cfg.Host, fmt.Sprintf("%d", f.cfg.Port))

	var opts imapclient.Options
	if f.cfg.TLS {
		opts.TLSConfig = &tls.Config{ServerName: f.cfg.Host, InsecureSkipVerify: f.cfg.AllowInsecureTLS} //nolint:gosec // explicit per-account opt-in, see Account.AllowInsecureTLS
	}

	var client *imapclient.Client
	var err error
	if f.cfg.TLS {
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(f.cfg.Username, f.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", f.cfg.Username, err)
	}

	f.client = client
	f.logger.Info("IMAP connected", "host", f.cfg.Host, "user", f.cfg.Username)
	return nil
}

func (f *IMAPFetcher) ensureConnected(ctx context.Context) error {
	if f.client != nil {
		if err := f.client.Noop().Wait(); err == nil {
			return nil
		}
		f.logger.Debug("IMAP connection stale, reconnecting", "host", f.cfg.Host)
	}
	return f.connectLocked(ctx)
}

func (f *IMAPFetcher) Test(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Safe(f.logger, "noop", KindAccount, func() error { return f.ensureConnected(ctx) })
}

func (f *IMAPFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return nil
	}
	return Safe(f.logger, "logout", KindSwallow, func() error {
		err := f.client.Close()
		f.client = nil
		return err
	})
}

func (f *IMAPFetcher) protocol() model.Protocol {
	if f.cfg.TLS {
		return model.ProtocolIMAPTLS
	}
	return model.ProtocolIMAP
}

func (f *IMAPFetcher) selectFolder(folder string) (*imap.SelectData, error) {
	if folder == "" {
		folder = "INBOX"
	}
	return SafeValue(f.logger, "select", KindMailbox, func() (*imap.SelectData, error) {
		return f.client.Select(folder, nil).Wait()
	})
}

func (f *IMAPFetcher) ListMailboxes(ctx context.Context) ([]MailboxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureConnected(ctx); err != nil {
		return nil, err
	}

	mailboxes, err := SafeValue(f.logger, "list", KindAccount, func() ([]*imap.ListData, error) {
		return f.client.List("", "*", nil).Collect()
	})
	if err != nil {
		return nil, err
	}

	var result []MailboxInfo
	for _, mbox := range mailboxes {
		noSelect := false
		for _, attr := range mbox.Attrs {
			if attr == imap.MailboxAttrNoSelect {
				noSelect = true
			}
		}
		if noSelect {
			continue
		}

		info := MailboxInfo{Name: mbox.Mailbox, Type: mailboxTypeFromAttrs(mbox.Mailbox, mbox.Attrs)}
		statusData, err := f.client.Status(mbox.Mailbox, &imap.StatusOptions{
			NumMessages: true,
			NumUnseen:   true,
		}).Wait()
		if err == nil {
			if statusData.NumMessages != nil {
				info.Messages = int(*statusData.NumMessages)
			}
			if statusData.NumUnseen != nil {
				info.Unseen = int(*statusData.NumUnseen)
			}
		}
		result = append(result, info)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// mailboxTypeFromAttrs normalizes IMAP LIST attributes (RFC 6154
// special-use, \Junk/\Sent/\Drafts/\Trash/\Archive) and the well-known
// "INBOX" name into the internal MailboxKind enum, per spec §4.2; any
// mailbox with none of these markers is model.MailboxKindCustom.
func mailboxTypeFromAttrs(name string, attrs []imap.MailboxAttr) model.MailboxKind {
	if strings.EqualFold(name, "INBOX") {
		return model.MailboxKindInbox
	}
	for _, attr := range attrs {
		switch attr {
		case imap.MailboxAttrSent:
			return model.MailboxKindSent
		case imap.MailboxAttrDrafts:
			return model.MailboxKindDrafts
		case imap.MailboxAttrJunk:
			return model.MailboxKindJunk
		case imap.MailboxAttrTrash:
			return model.MailboxKindTrash
		case imap.MailboxAttrArchive:
			return model.MailboxKindArchive
		}
	}
	return model.MailboxKindCustom
}

func (f *IMAPFetcher) Fetch(ctx context.Context, mailbox string, criterion model.FetchingCriterion, arg string) ([]RemoteMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ValidateCriterion(f.protocol(), criterion, arg); err != nil {
		return nil, &ValidationFailure{Err: err}
	}

	if err := f.ensureConnected(ctx); err != nil {
		return nil, err
	}

	if _, err := f.selectFolder(mailbox); err != nil {
		return nil, err
	}

	criteria, err := imapSearchCriteria(Criterion{Tag: criterion, Arg: arg})
	if err != nil {
		return nil, &ValidationFailure{Err: err}
	}

	searchData, err := SafeValue(f.logger, "uid search", KindMailbox, func() (*imap.SearchData, error) {
		return f.client.UIDSearch(criteria, nil).Wait()
	})
	if err != nil {
		return nil, err
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchCmd := f.client.Fetch(uidSet, &imap.FetchOptions{
		UID: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true}, // do not mark \Seen; archiving must not mutate source state
		},
	})

	var messages []RemoteMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		rm, err := parseFetchMessage(msg)
		if err != nil {
			f.logger.Debug("skipping message", "error", err)
			continue
		}
		messages = append(messages, rm)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, &MailboxError{Op: "fetch", Err: err}
	}

	return messages, nil
}

func parseFetchMessage(msg *imapclient.FetchMessageData) (RemoteMessage, error) {
	var rm RemoteMessage
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			rm.UID = fmt.Sprintf("%d", uint32(data.UID))
		case imapclient.FetchItemDataBodySection:
			if data.Literal == nil {
				continue
			}
			raw, err := io.ReadAll(data.Literal)
			if err != nil {
				return rm, fmt.Errorf("read body literal: %w", err)
			}
			rm.Raw = raw
			rm.Size = int64(len(raw))
		}
	}
	if rm.UID == "" {
		return rm, fmt.Errorf("message missing UID")
	}
	return rm, nil
}

func (f *IMAPFetcher) Restore(ctx context.Context, mailbox string, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureConnected(ctx); err != nil {
		return err
	}
	if mailbox == "" {
		mailbox = "INBOX"
	}

	return Safe(f.logger, "append", KindMailbox, func() error {
		appendCmd := f.client.Append(mailbox, int64(len(raw)), nil)
		if _, err := appendCmd.Write(raw); err != nil {
			appendCmd.Close()
			return err
		}
		if err := appendCmd.Close(); err != nil {
			return err
		}
		return appendCmd.Wait()
	})
}
