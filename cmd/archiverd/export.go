package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/archivekeep/mailarchiver/internal/codec"
)

// runExport writes every archived email in a mailbox to a mailbox file
// in the requested format, reading each message's raw bytes back out of
// the blob store.
func runExport(logger *slog.Logger, configPath, mailboxIDArg, formatArg, outPath string) {
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

	emails, err := deps.Store.ListEmailsByMailbox(mailboxID)
	if err != nil {
		logger.Error("export: failed to list emails", "mailbox_id", mailboxID, "error", err)
		os.Exit(1)
	}

	writer, err := codec.CreateWriter(format, outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", outPath, err)
		os.Exit(1)
	}

	var exported, failed int
	for _, email := range emails {
		raw, err := deps.Blobs.Read(email.BlobPath)
		if err != nil {
			logger.Error("export: failed to read blob", "email_id", email.ID, "blob_path", email.BlobPath, "error", err)
			failed++
			continue
		}
		if err := writer.Write(raw); err != nil {
			logger.Error("export: failed to write message", "email_id", email.ID, "error", err)
			failed++
			continue
		}
		exported++
	}

	if err := writer.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "finalize %s: %v\n", outPath, err)
		os.Exit(1)
	}

	fmt.Printf("exported=%d failed=%d -> %s\n", exported, failed, outPath)
}
