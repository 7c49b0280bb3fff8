package mail

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// NewFetcher builds the protocol-appropriate Fetcher for account. IMAP
// and POP3 map directly onto Account's generic host/port/username/
// password fields; JMAP and Exchange repurpose the same fields for their
// own connection parameters (documented per field below) rather than
// widening Account with protocol-specific columns nothing else needs.
//
// allowInsecureConnections is the process-wide ALLOW_INSECURE_CONNECTIONS
// gate (spec.md §6); it is ANDed with the account's own AllowInsecureTLS
// flag so a single account can never relax TLS verification unless the
// operator has also opted the whole process into it.
func NewFetcher(account *model.Account, mailboxRemoteName string, allowInsecureConnections bool, logger *slog.Logger, httpClient *http.Client) (Fetcher, error) {
	allowInsecureTLS := allowInsecureConnections && account.AllowInsecureTLS

	switch account.Protocol {
	case model.ProtocolIMAP, model.ProtocolIMAPTLS:
		return NewIMAPFetcher(IMAPConfig{
			Host:             account.Host,
			Port:             account.Port,
			Username:         account.Username,
			Password:         account.Password,
			TLS:              account.Protocol == model.ProtocolIMAPTLS,
			Timeout:          account.Timeout(),
			AllowInsecureTLS: allowInsecureTLS,
		}, logger), nil

	case model.ProtocolPOP3, model.ProtocolPOP3TLS:
		return NewPOP3Fetcher(POP3Config{
			Host:             account.Host,
			Port:             account.Port,
			Username:         account.Username,
			Password:         account.Password,
			TLS:              account.Protocol == model.ProtocolPOP3TLS,
			Timeout:          account.Timeout(),
			AllowInsecureTLS: allowInsecureTLS,
		}, logger), nil

	case model.ProtocolJMAP:
		// Host carries the well-known JMAP session URL; JMAP has no
		// separate port concept (it is plain HTTPS).
		return NewJMAPFetcher(JMAPConfig{
			SessionURL: account.Host,
			Username:   account.Username,
			Password:   account.Password,
		}, logger, httpClient), nil

	case model.ProtocolExchange:
		// Host/Username/Password are repurposed as TenantID/ClientID/
		// ClientSecret for the client-credential flow; there is no
		// interactive user to authenticate as.
		return NewExchangeFetcher(ExchangeConfig{
			TenantID:     account.Host,
			ClientID:     account.Username,
			ClientSecret: account.Password,
			Mailbox:      mailboxRemoteName,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unsupported protocol %q", account.Protocol)
	}
}
