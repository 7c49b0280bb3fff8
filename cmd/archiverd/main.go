// Package main is the entry point for archiverd, the self-hostable mail
// archiving daemon: it wires config, the archive store, the health
// tracker, and the routine scheduler together for the "serve" command,
// and exposes the one-shot control operations (test-routine, import,
// export, restore) as plain subcommands dispatched off flag.Arg(0).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/archivekeep/mailarchiver/internal/buildinfo"
	"github.com/archivekeep/mailarchiver/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	switch flag.Arg(0) {
	case "serve":
		runServe(logger, *configPath)
	case "test-routine":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: archiverd test-routine <uuid>")
			os.Exit(1)
		}
		runTestRoutine(logger, *configPath, flag.Arg(1))
	case "import":
		if flag.NArg() < 4 {
			fmt.Fprintln(os.Stderr, "usage: archiverd import <mailbox-id> <format> <path>")
			os.Exit(1)
		}
		runImport(logger, *configPath, flag.Arg(1), flag.Arg(2), flag.Arg(3))
	case "export":
		if flag.NArg() < 4 {
			fmt.Fprintln(os.Stderr, "usage: archiverd export <mailbox-id> <format> <out-path>")
			os.Exit(1)
		}
		runExport(logger, *configPath, flag.Arg(1), flag.Arg(2), flag.Arg(3))
	case "restore":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: archiverd restore <email-id>")
			os.Exit(1)
		}
		runRestore(logger, *configPath, flag.Arg(1))
	case "add-mailbox":
		if flag.NArg() < 4 {
			fmt.Fprintln(os.Stderr, "usage: archiverd add-mailbox <account-id> <remote-name> <kind>")
			os.Exit(1)
		}
		runAddMailbox(logger, *configPath, flag.Arg(1), flag.Arg(2), flag.Arg(3))
	case "version":
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("archiverd - self-hostable mail archiving daemon")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the daemon and its routine workers")
	fmt.Println("  test-routine <uuid>                Run one routine cycle synchronously")
	fmt.Println("  import <mailbox-id> <fmt> <path>    Import a mailbox file into the archive")
	fmt.Println("  export <mailbox-id> <fmt> <path>    Export an archived mailbox to a file")
	fmt.Println("  restore <email-id>                  Append an archived email back to its mailbox")
	fmt.Println("  add-mailbox <acct-id> <name> <kind> Create a mailbox under an account, seeded from config defaults")
	fmt.Println("  version                            Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func loadConfig(logger *slog.Logger, configPath string) *config.Config {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}
	logger.Info("config loaded", "path", cfgPath, "data_dir", cfg.DataDir)
	return cfg
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting archiverd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg := loadConfig(logger, configPath)
	deps, err := buildDaemon(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize daemon", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := deps.Scheduler.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("shutdown signal received")
	cancel()
	deps.Scheduler.Stop()
	logger.Info("archiverd stopped")
}
