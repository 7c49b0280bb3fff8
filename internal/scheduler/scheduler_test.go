package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archivekeep/mailarchiver/internal/model"
	"github.com/archivekeep/mailarchiver/internal/routine"
)

// fakeRegistry is an in-memory registryView for tests, avoiding a real
// archive.Store.
type fakeRegistry struct {
	mu       sync.Mutex
	routines map[string]*model.Routine
	running  map[string]bool
}

func newFakeRegistry(routines ...*model.Routine) *fakeRegistry {
	r := &fakeRegistry{routines: make(map[string]*model.Routine), running: make(map[string]bool)}
	for _, rt := range routines {
		r.routines[rt.UUID] = rt
	}
	return r
}

func (f *fakeRegistry) List() ([]model.Routine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Routine, 0, len(f.routines))
	for _, r := range f.routines {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRegistry) Get(uuid string) (*model.Routine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routines[uuid]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRegistry) MarkRunning(uuid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[uuid] = true
}

func (f *fakeRegistry) MarkStopped(uuid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, uuid)
}

func (f *fakeRegistry) isRunning(uuid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[uuid]
}

func (f *fakeRegistry) disable(uuid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routines[uuid].Enabled = false
}

// fakeRunner counts calls and returns a scripted sequence of results.
type fakeRunner struct {
	calls   atomic.Int32
	results func(call int32) routine.CycleResult
}

func (f *fakeRunner) Run(ctx context.Context, uuid string) routine.CycleResult {
	n := f.calls.Add(1)
	return f.results(n)
}

func testBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	if cfg.InitialDelay != 60*time.Second {
		t.Errorf("InitialDelay = %v, want 60s", cfg.InitialDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", cfg.Multiplier)
	}
	if cfg.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", cfg.MaxAttempts)
	}
}

func TestScheduler_StartRoutine_MarksRunning(t *testing.T) {
	rt := &model.Routine{UUID: "r1", Enabled: true, Interval: time.Hour}
	reg := newFakeRegistry(rt)
	runner := &fakeRunner{results: func(int32) routine.CycleResult { return routine.CycleResult{Success: true} }}

	s := newScheduler(reg, runner, slog.Default(), "", 0, 0)
	s.backoff = testBackoff()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartRoutine(ctx, "r1")

	waitFor(t, time.Second, func() bool { return reg.isRunning("r1") }, "routine marked running")
	waitFor(t, time.Second, func() bool { return runner.calls.Load() >= 1 }, "runner invoked")

	s.StopRoutine("r1")
	if reg.isRunning("r1") {
		t.Error("expected routine marked stopped after StopRoutine")
	}
}

func TestScheduler_StopsWhenDisabled(t *testing.T) {
	rt := &model.Routine{UUID: "r1", Enabled: true, Interval: time.Millisecond}
	reg := newFakeRegistry(rt)
	runner := &fakeRunner{results: func(n int32) routine.CycleResult {
		if n == 1 {
			reg.disable("r1")
		}
		return routine.CycleResult{Success: true}
	}}

	s := newScheduler(reg, runner, slog.Default(), "", 0, 0)
	s.backoff = testBackoff()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartRoutine(ctx, "r1")

	s.mu.Lock()
	w := s.workers["r1"]
	s.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after routine was disabled")
	}
}

func TestScheduler_BacksOffOnCrash_ThenGivesUp(t *testing.T) {
	rt := &model.Routine{UUID: "r1", Enabled: true, Interval: time.Millisecond}
	reg := newFakeRegistry(rt)
	crashErr := errors.New("boom")
	runner := &fakeRunner{results: func(int32) routine.CycleResult {
		return routine.CycleResult{Err: crashErr, Crashed: true}
	}}

	s := newScheduler(reg, runner, slog.Default(), "", 0, 0)
	s.backoff = testBackoff()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartRoutine(ctx, "r1")

	s.mu.Lock()
	w := s.workers["r1"]
	s.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after exceeding max crash attempts")
	}

	if got := runner.calls.Load(); got != int32(s.backoff.MaxAttempts) {
		t.Errorf("runner called %d times, want exactly MaxAttempts (%d)", got, s.backoff.MaxAttempts)
	}
}

func TestScheduler_NonCrashErrorResetsBackoffAndKeepsTicking(t *testing.T) {
	rt := &model.Routine{UUID: "r1", Enabled: true, Interval: time.Millisecond}
	reg := newFakeRegistry(rt)
	runner := &fakeRunner{results: func(int32) routine.CycleResult {
		return routine.CycleResult{Err: errors.New("bad credentials"), Crashed: false}
	}}

	s := newScheduler(reg, runner, slog.Default(), "", 0, 0)
	s.backoff = testBackoff()

	ctx, cancel := context.WithCancel(context.Background())
	s.StartRoutine(ctx, "r1")

	waitFor(t, time.Second, func() bool { return runner.calls.Load() > int32(s.backoff.MaxAttempts) },
		"non-crash errors must not trip the crash backoff's give-up threshold")

	cancel()
	s.mu.Lock()
	w := s.workers["r1"]
	s.mu.Unlock()
	<-w.done
}

func TestScheduler_StopIsIdempotentForUnknownRoutine(t *testing.T) {
	reg := newFakeRegistry()
	runner := &fakeRunner{results: func(int32) routine.CycleResult { return routine.CycleResult{Success: true} }}
	s := newScheduler(reg, runner, slog.Default(), "", 0, 0)
	s.StopRoutine("does-not-exist") // must not panic or block
}
