package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/archivekeep/mailarchiver/internal/codec"
	"github.com/archivekeep/mailarchiver/internal/parser"
)

// runImport reads every message out of a mailbox file (independent of
// any Fetcher, per spec.md's "the Mailbox-File Codec injects messages
// into C3+C4 without touching C2") and archives each one through the
// normal Writer path, so import gets identical dedup/spam-discard
// behavior as a live fetch.
func runImport(logger *slog.Logger, configPath, mailboxIDArg, formatArg, path string) {
	mailboxID, err := strconv.ParseInt(mailboxIDArg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid mailbox id %q: %v\n", mailboxIDArg, err)
		os.Exit(1)
	}
	format, err := codec.ParseFormat(formatArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := loadConfig(logger, configPath)
	deps, err := buildDaemon(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize daemon", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	mailbox, err := deps.Store.GetMailbox(mailboxID)
	if err != nil || mailbox == nil {
		fmt.Fprintf(os.Stderr, "mailbox %d does not exist\n", mailboxID)
		os.Exit(1)
	}
	account, err := deps.Store.GetAccount(mailbox.AccountID)
	if err != nil || account == nil {
		fmt.Fprintf(os.Stderr, "account %d does not exist\n", mailbox.AccountID)
		os.Exit(1)
	}

	reader, closer, err := codec.OpenReader(format, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer closer.Close()

	var imported, skipped, duplicate, spamDiscarded int
	for {
		raw, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error("import: reading next message failed", "path", path, "error", err)
			skipped++
			continue
		}

		parsed, err := parser.Parse(logger, raw, time.Now())
		if err != nil {
			logger.Warn("import: skipping unparseable message", "error", err)
			skipped++
			continue
		}

		result, err := deps.Writer.Write(account.OwnerID, mailbox, raw, parsed)
		if err != nil {
			logger.Error("import: archive write failed", "error", err)
			skipped++
			continue
		}

		switch result.Outcome {
		case "archived":
			imported++
		case "duplicate":
			duplicate++
		case "discarded_spam":
			spamDiscarded++
		}
	}

	fmt.Printf("imported=%d duplicate=%d spam_discarded=%d skipped=%d\n", imported, duplicate, spamDiscarded, skipped)
}
