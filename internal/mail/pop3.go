package mail

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/archivekeep/mailarchiver/internal/model"
)

// ErrRestoreUnsupported is returned by POP3Fetcher.Restore: the protocol
// has no APPEND-equivalent verb to re-deliver a message into the spool.
var ErrRestoreUnsupported = errors.New("POP3 does not support restoring messages")

// POP3Config holds the connection parameters for a POP3 or POP3_TLS
// account.
type POP3Config struct {
	Host             string
	Port             int
	Username         string
	Password         string
	TLS              bool
	Timeout          time.Duration
	AllowInsecureTLS bool
}

// POP3Fetcher is a hand-rolled POP3 client implementing Fetcher, grounded
// on the raw USER/PASS/STAT/UIDL/RETR/DELE/QUIT framing of
// coreseekdev-emx-mail's pkgs/email/pop3.go. POP3 has no folder concept,
// so mailbox is always treated as the implicit single spool; ListMailboxes
// reports one synthetic entry.
type POP3Fetcher struct {
	cfg    POP3Config
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// NewPOP3Fetcher creates a POP3 fetcher for the given account.
func NewPOP3Fetcher(cfg POP3Config, logger *slog.Logger) *POP3Fetcher {
	return &POP3Fetcher{cfg: cfg, logger: logger}
}

func (f *POP3Fetcher) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Safe(f.logger, "connect", KindAccount, func() error { return f.connectLocked(ctx) })
}

func (f *POP3Fetcher) connectLocked(ctx context.Context) error {
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}

	addr := net.JoinHostPort(f.cfg.Host, fmt.Sprintf("%d", f.cfg.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial POP3 %s: %w", addr, err)
	}
	if f.cfg.TLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: f.cfg.Host, InsecureSkipVerify: f.cfg.AllowInsecureTLS}) //nolint:gosec // explicit per-account opt-in, see Account.AllowInsecureTLS
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	f.conn = conn
	f.r = bufio.NewReader(conn)

	if _, err := f.readLine(); err != nil { // greeting
		return fmt.Errorf("read greeting: %w", err)
	}

	if _, err := f.command("USER " + f.cfg.Username); err != nil {
		return fmt.Errorf("USER: %w", err)
	}
	if _, err := f.command("PASS " + f.cfg.Password); err != nil {
		return fmt.Errorf("PASS: %w", err)
	}

	f.logger.Info("POP3 connected", "host", f.cfg.Host, "user", f.cfg.Username)
	return nil
}

func (f *POP3Fetcher) readLine() (string, error) {
	line, err := f.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// command writes a single-line command and reads the +OK/-ERR status
// line, returning the remainder of that line (after the status word) on
// success or an error wrapping the server's message on failure.
func (f *POP3Fetcher) command(cmd string) (string, error) {
	if _, err := f.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return "", err
	}
	line, err := f.readLine()
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(line, "+OK") {
		return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
	}
	return "", &BadServerResponseError{Command: cmd, Response: line}
}

// readMultiline reads a dot-terminated multi-line response body (used by
// RETR, TOP, UIDL, LIST) after its +OK status line has already been
// consumed by command.
func (f *POP3Fetcher) readMultiline() ([]byte, error) {
	var buf []byte
	for {
		line, err := f.r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		if string(line) == ".\r\n" || string(line) == ".\n" {
			break
		}
		// Byte-stuffing: a line starting with ".." represents a literal
		// leading dot.
		if len(line) >= 2 && line[0] == '.' && line[1] == '.' {
			line = line[1:]
		}
		buf = append(buf, line...)
	}
	return buf, nil
}

func (f *POP3Fetcher) Test(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Safe(f.logger, "stat", KindAccount, func() error {
		if f.conn == nil {
			return f.connectLocked(ctx)
		}
		_, err := f.command("STAT")
		return err
	})
}

func (f *POP3Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}
	return Safe(f.logger, "quit", KindSwallow, func() error {
		_, _ = f.command("QUIT")
		err := f.conn.Close()
		f.conn = nil
		return err
	})
}

// ListMailboxes returns a single synthetic mailbox named "INBOX" — POP3
// has no folder hierarchy, just one spool per account.
func (f *POP3Fetcher) ListMailboxes(ctx context.Context) ([]MailboxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		if err := f.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	stat, err := SafeValue(f.logger, "stat", KindAccount, func() (string, error) { return f.command("STAT") })
	if err != nil {
		return nil, err
	}

	count := 0
	if fields := strings.Fields(stat); len(fields) > 0 {
		count, _ = strconv.Atoi(fields[0])
	}

	return []MailboxInfo{{Name: "INBOX", Type: model.MailboxKindInbox, Messages: count}}, nil
}

// Fetch retrieves all messages via RETR. POP3 has neither folders nor
// flags, so only ALL is accepted (spec §4.2 "POP3 specifics"); anything
// else is rejected by ValidateCriterion before any network I/O.
// Duplicate suppression across repeated fetches falls entirely on C4's
// (mailbox, message-id) uniqueness, per spec.
func (f *POP3Fetcher) Fetch(ctx context.Context, mailbox string, criterion model.FetchingCriterion, arg string) ([]RemoteMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	protocol := model.ProtocolPOP3
	if f.cfg.TLS {
		protocol = model.ProtocolPOP3TLS
	}
	if err := ValidateCriterion(protocol, criterion, arg); err != nil {
		return nil, &ValidationFailure{Err: err}
	}

	if f.conn == nil {
		if err := f.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	if _, err := f.command("UIDL"); err != nil {
		return nil, &MailboxError{Op: "uidl", Err: err}
	}
	uidlBody, err := f.readMultiline()
	if err != nil {
		return nil, &MailboxError{Op: "uidl", Err: err}
	}

	type entry struct {
		num int
		uid string
	}
	var entries []entry
	for _, line := range strings.Split(string(uidlBody), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		entries = append(entries, entry{num: num, uid: fields[1]})
	}

	// Every entry is retrieved on every cycle; POP3 has no persisted
	// per-account high-water mark in this design, so correctness for
	// repeated cycles rests entirely on C4's (mailbox, message-id)
	// uniqueness, as spec §4.2 calls for.
	var messages []RemoteMessage
	for _, e := range entries {
		if _, err := f.command(fmt.Sprintf("RETR %d", e.num)); err != nil {
			f.logger.Debug("RETR failed, skipping message", "num", e.num, "error", err)
			continue
		}
		raw, err := f.readMultiline()
		if err != nil {
			return nil, &MailboxError{Op: "retr", Err: err}
		}
		messages = append(messages, RemoteMessage{UID: e.uid, Raw: raw, Size: int64(len(raw))})
	}

	return messages, nil
}

// Restore is not supported over POP3: the protocol has no APPEND-like
// verb to re-deliver a message into the spool.
func (f *POP3Fetcher) Restore(_ context.Context, _ string, _ []byte) error {
	return &MailboxError{Op: "restore", Err: ErrRestoreUnsupported}
}
