package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// runTestRoutine runs exactly one fetch-and-archive cycle for uuid and
// reports the outcome, per spec.md's synchronous "test" invocation —
// the same Runner.Run the scheduler calls on a timer, called once here
// on the caller's own context instead.
func runTestRoutine(logger *slog.Logger, configPath, uuid string) {
	cfg := loadConfig(logger, configPath)
	deps, err := buildDaemon(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize daemon", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	result := deps.Runner.Run(context.Background(), uuid)
	if result.Err != nil {
		fmt.Fprintf(os.Stderr, "routine %s failed: %v\n", uuid, result.Err)
		os.Exit(1)
	}
	fmt.Printf("routine %s: archived=%d duplicate=%d spam_discarded=%d\n",
		uuid, result.Archived, result.Duplicate, result.SpamDiscarded)
}
