package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/archivekeep/mailarchiver/internal/archive"
	"github.com/archivekeep/mailarchiver/internal/model"
)

// runAddMailbox creates a mailbox under an existing account, seeding its
// save/spam policy flags from the daemon's configured defaults rather
// than leaving them at Go's zero value (spec.md §6).
func runAddMailbox(logger *slog.Logger, configPath, accountIDArg, remoteName, kindArg string) {
	accountID, err := strconv.ParseInt(accountIDArg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid account id %q: %v\n", accountIDArg, err)
		os.Exit(1)
	}

	cfg := loadConfig(logger, configPath)
	deps, err := buildDaemon(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize daemon", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	account, err := deps.Store.GetAccount(accountID)
	if err != nil || account == nil {
		fmt.Fprintf(os.Stderr, "account %d does not exist\n", accountID)
		os.Exit(1)
	}

	mailbox := archive.NewMailboxDefaults(cfg, accountID, remoteName, model.MailboxKind(kindArg))
	id, err := deps.Store.CreateMailbox(mailbox)
	if err != nil {
		logger.Error("create mailbox failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("mailbox id=%d save_to_eml=%v save_attachments=%v throw_out_spam=%v\n",
		id, mailbox.SaveToEML, mailbox.SaveAttachments, mailbox.ThrowOutSpam)
}
