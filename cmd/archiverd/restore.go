package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/archivekeep/mailarchiver/internal/archive"
	"github.com/archivekeep/mailarchiver/internal/buildinfo"
	"github.com/archivekeep/mailarchiver/internal/httpkit"
	"github.com/archivekeep/mailarchiver/internal/mail"
)

// runRestore reads an archived email's stored bytes and APPENDs it back
// to its owning mailbox on the remote server, per spec.md's "restore
// invocation pulls bytes out of the archive and uses C2 to append to a
// remote mailbox". Fails with a *archive.NotFoundError if the archive
// has no stored blob for the email, matching spec.md's FileNotFoundError.
func runRestore(logger *slog.Logger, configPath, emailIDArg string) {
	emailID, err := strconv.ParseInt(emailIDArg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid email id %q: %v\n", emailIDArg, err)
		os.Exit(1)
	}

	cfg := loadConfig(logger, configPath)
	deps, err := buildDaemon(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize daemon", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	email, err := deps.Store.GetEmail(emailID)
	if err != nil || email == nil {
		fmt.Fprintf(os.Stderr, "email %d does not exist\n", emailID)
		os.Exit(1)
	}
	mailbox, err := deps.Store.GetMailbox(email.MailboxID)
	if err != nil || mailbox == nil {
		fmt.Fprintf(os.Stderr, "mailbox %d does not exist\n", email.MailboxID)
		os.Exit(1)
	}
	account, err := deps.Store.GetAccount(mailbox.AccountID)
	if err != nil || account == nil {
		fmt.Fprintf(os.Stderr, "account %d does not exist\n", mailbox.AccountID)
		os.Exit(1)
	}

	raw, err := deps.Blobs.Read(email.BlobPath)
	if err != nil {
		notFound := &archive.NotFoundError{Kind: "blob", Key: email.BlobPath}
		fmt.Fprintln(os.Stderr, notFound.Error())
		os.Exit(1)
	}

	ctx := context.Background()
	httpClient := httpkit.NewClient(httpkit.WithUserAgent("archiverd/" + buildinfo.Version))
	fetcher, err := mail.NewFetcher(account, mailbox.RemoteName, cfg.AllowInsecureConnections, logger, httpClient)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build fetcher: %v\n", err)
		os.Exit(1)
	}
	defer fetcher.Close()

	if err := fetcher.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if err := fetcher.Restore(ctx, mailbox.RemoteName, raw); err != nil {
		fmt.Fprintf(os.Stderr, "restore: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("restored email %d to %s\n", emailID, mailbox.RemoteName)
}
