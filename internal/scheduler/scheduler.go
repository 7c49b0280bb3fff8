// Package scheduler is the routine scheduler: one goroutine per enabled
// routine, ticking Runner.Run on the routine's
// configured interval. Grounded on internal/connwatch's
// (internal/connwatch/connwatch.go) Manager/Watcher split — a per-entity
// goroutine with its own cancel/done channel, supervised by a map under
// a mutex — and its exponential-backoff schedule for an unhealthy
// dependency, repurposed here for a routine that keeps crashing instead
// of a service that keeps failing to connect.
//
// A routine's own operational errors (bad credentials, a missing
// mailbox) never reach the scheduler: Runner.classifyAndRecord absorbs
// them into the health cascade and returns a CycleResult whose Err is
// still set but whose Crashed flag is false. The scheduler only backs
// off on Crashed cycles — errors classifyAndRecord does not recognize
// as an account, mailbox or validation failure — since a routine with
// a permanently bad password should tick forever at its normal interval (so health stays current and recovery is
// noticed quickly), while a routine whose fetcher keeps panicking-by-
// proxy should be throttled.
package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/archivekeep/mailarchiver/internal/model"
	"github.com/archivekeep/mailarchiver/internal/routine"
)

// BackoffConfig controls how quickly a crashing routine's worker backs
// off its tick interval. Grounded on connwatch.BackoffConfig, with its
// own numbers for routine crash recovery rather than connwatch's
// service-probe numbers.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// DefaultBackoffConfig returns the default schedule: 60s initial delay,
// doubling up to 16 minutes, capped at 10 attempts, after which the
// worker exits. The exited worker keeps its entry in the workers map, so
// StartRoutine does not revive it; Restart or the next Start does.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 60 * time.Second,
		MaxDelay:     60 * time.Second * 16, // 16 minutes
		Multiplier:   2.0,
		MaxAttempts:  10,
	}
}

// cycleRunner is the subset of *routine.Runner the scheduler depends on,
// narrowed to an interface so tests can drive worker lifecycle logic
// (backoff, stop-on-disable) without a real archive/fetcher stack.
type cycleRunner interface {
	Run(ctx context.Context, uuid string) routine.CycleResult
}

// registryView is the subset of *routine.Registry the scheduler reads.
type registryView interface {
	List() ([]model.Routine, error)
	Get(uuid string) (*model.Routine, error)
	MarkRunning(uuid string)
	MarkStopped(uuid string)
}

// Scheduler drives one worker goroutine per enabled routine. It never
// persists its own schedule state — the routine's Interval and Enabled
// columns in the archive are the source of truth, so a restart simply
// re-derives the running set from Registry.List.
type Scheduler struct {
	registry registryView
	runner   cycleRunner
	logger   *slog.Logger
	backoff  BackoffConfig

	// logRoot holds one rotated log file per routine, named "<uuid>.log".
	logRoot          string
	logBackupCount   int
	logfileSizeBytes int64

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Scheduler. logRoot, logBackupCount, and logfileSizeBytes
// come straight from config.Config's LogRoot/DaemonLogBackupCountDefault
// /DaemonLogfileSizeDefault.
func New(registry *routine.Registry, runner *routine.Runner, logger *slog.Logger, logRoot string, logBackupCount int, logfileSizeBytes int64) *Scheduler {
	return newScheduler(registry, runner, logger, logRoot, logBackupCount, logfileSizeBytes)
}

func newScheduler(registry registryView, runner cycleRunner, logger *slog.Logger, logRoot string, logBackupCount int, logfileSizeBytes int64) *Scheduler {
	return &Scheduler{
		registry:         registry,
		runner:           runner,
		logger:           logger,
		backoff:          DefaultBackoffConfig(),
		logRoot:          logRoot,
		logBackupCount:   logBackupCount,
		logfileSizeBytes: logfileSizeBytes,
		workers:          make(map[string]*worker),
	}
}

// Start loads every persisted routine and launches a worker for each one
// that is enabled. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	routines, err := s.registry.List()
	if err != nil {
		return err
	}
	for i := range routines {
		r := routines[i]
		if r.Enabled {
			s.StartRoutine(ctx, r.UUID)
		}
	}
	s.logger.Info("scheduler started", "routines", len(routines))
	return nil
}

// Stop cancels every running worker and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for uuid, w := range s.workers {
		w.cancel()
		workers = append(workers, w)
		delete(s.workers, uuid)
	}
	s.mu.Unlock()

	for _, w := range workers {
		<-w.done
	}
	s.logger.Info("scheduler stopped")
}

// StartRoutine launches a worker for uuid if one isn't already running.
// Safe to call from the control surface when a routine is created or
// re-enabled.
func (s *Scheduler) StartRoutine(ctx context.Context, uuid string) {
	s.mu.Lock()
	if _, exists := s.workers[uuid]; exists {
		s.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	s.workers[uuid] = w
	s.mu.Unlock()

	s.registry.MarkRunning(uuid)
	go s.run(workerCtx, uuid, w)
}

// StopRoutine cancels uuid's worker and waits for it to exit. Safe to
// call when a routine is disabled or deleted.
func (s *Scheduler) StopRoutine(uuid string) {
	s.mu.Lock()
	w, exists := s.workers[uuid]
	if exists {
		delete(s.workers, uuid)
	}
	s.mu.Unlock()

	if !exists {
		return
	}
	w.cancel()
	<-w.done
	s.registry.MarkStopped(uuid)
}

// Restart stops and restarts uuid's worker, picking up a changed
// interval or criterion from the store. A no-op if the routine isn't
// currently running.
func (s *Scheduler) Restart(ctx context.Context, uuid string) {
	s.mu.Lock()
	_, exists := s.workers[uuid]
	s.mu.Unlock()
	if !exists {
		return
	}
	s.StopRoutine(uuid)
	s.StartRoutine(ctx, uuid)
}

// run is the per-routine worker loop: it ticks on the routine's own
// Interval, never starting a new cycle before the previous one has
// returned. Because the next timer is armed only after Runner.Run
// returns, an overlapping tick is structurally impossible rather than
// merely discouraged — the fixed-interval equivalent of connwatch's
// single in-flight probe.
func (s *Scheduler) run(ctx context.Context, uuid string, w *worker) {
	defer close(w.done)

	logger := s.routineLogger(uuid)
	attempt := 0
	delay := s.backoff.InitialDelay

	for {
		r, err := s.registry.Get(uuid)
		if err != nil || r == nil {
			logger.Error("routine vanished from registry, stopping worker", "uuid", uuid, "error", err)
			return
		}
		if !r.Enabled {
			logger.Info("routine disabled, stopping worker", "uuid", uuid)
			return
		}

		result := s.runner.Run(ctx, uuid)
		if result.Crashed {
			attempt++
			logger.Error("routine crashed", "uuid", uuid, "attempt", attempt, "error", result.Err)
			if attempt >= s.backoff.MaxAttempts {
				logger.Error("routine exceeded max crash attempts, stopping worker", "uuid", uuid, "attempts", attempt)
				return
			}
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = time.Duration(float64(delay) * s.backoff.Multiplier)
			if delay > s.backoff.MaxDelay {
				delay = s.backoff.MaxDelay
			}
			continue
		}

		// A non-crash cycle (success or an absorbed operational
		// error) resets the crash backoff and ticks at the routine's
		// normal interval.
		attempt = 0
		delay = s.backoff.InitialDelay

		interval := r.Interval
		if interval <= 0 {
			interval = time.Hour
		}
		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

// routineLogger returns a logger that writes to the routine's own
// rotated log file under logRoot. If logRoot is unset (e.g. in tests),
// it falls back to the scheduler's shared logger.
func (s *Scheduler) routineLogger(uuid string) *slog.Logger {
	if s.logRoot == "" {
		return s.logger.With("routine", uuid)
	}
	writer := &lumberjack.Logger{
		Filename:   filepath.Join(s.logRoot, uuid+".log"),
		MaxSize:    int(s.logfileSizeBytes / (1024 * 1024)),
		MaxBackups: s.logBackupCount,
	}
	handler := slog.NewTextHandler(writer, nil)
	return slog.New(handler).With("routine", uuid)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
