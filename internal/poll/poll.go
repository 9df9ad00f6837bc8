// Package poll schedules named periodic request tasks. Each iteration is
// submitted through the shared pipeline (and so through the concurrency
// gate); the next iteration is scheduled a fixed interval after the
// previous one settles, bounded by a maximum iteration count.
package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sao-lang/lania-tools/request/core"
)

// Runner executes one polling iteration end to end.
type Runner func(ctx context.Context, req *core.Request) (*core.Response, error)

// Config describes a named polling task.
type Config struct {
	// Key distinguishes this task; starting a key that already exists
	// stops the prior task first.
	Key string

	// Request is the logical request submitted each iteration.
	Request *core.Request

	// Interval separates an iteration's settlement from the next start.
	Interval time.Duration

	// MaxTimes bounds total iterations. Zero or negative polls until
	// stopped.
	MaxTimes int

	OnSuccess func(*core.Response)
	OnError   func(error)
}

// Scheduler owns all polling state. At most one timer exists per key; a
// stopped task's timer is cancelled and its state removed before Stop
// returns.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	runner Runner
	logger *zap.Logger
}

type task struct {
	cfg      Config
	stopped  bool
	attempts int
	timer    *time.Timer
	cancel   context.CancelFunc
}

// New creates a scheduler that runs iterations through runner.
func New(runner Runner, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:  make(map[string]*task),
		runner: runner,
		logger: logger,
	}
}

// Start begins a named task and returns immediately. The first iteration
// runs at once; each later one fires Interval after the previous settles.
func (s *Scheduler) Start(cfg Config) {
	s.Stop(cfg.Key)

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cfg: cfg, cancel: cancel}

	s.mu.Lock()
	s.tasks[cfg.Key] = t
	s.mu.Unlock()

	s.logger.Info("polling started",
		zap.String("key", cfg.Key),
		zap.Duration("interval", cfg.Interval),
		zap.Int("max_times", cfg.MaxTimes),
	)

	go s.iterate(ctx, t)
}

// Stop flags the task stopped, cancels its pending timer and any in-flight
// iteration, and removes the entry. Idempotent.
func (s *Scheduler) Stop(key string) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if ok {
		t.stopped = true
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	if ok {
		t.cancel()
		s.logger.Info("polling stopped", zap.String("key", key))
	}
}

// StopAll stops every task.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.tasks))
	for key := range s.tasks {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.Stop(key)
	}
}

// Active returns the number of running tasks.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// iterate runs one iteration and, when the task survives it, schedules the
// next. The stopped flag is checked before callbacks fire and again before
// the next timer is armed.
func (s *Scheduler) iterate(ctx context.Context, t *task) {
	resp, err := s.runner(ctx, t.cfg.Request.Clone())

	s.mu.Lock()
	if t.stopped {
		s.mu.Unlock()
		return
	}
	t.attempts++
	attempts := t.attempts
	s.mu.Unlock()

	if err != nil {
		if t.cfg.OnError != nil {
			t.cfg.OnError(err)
		}
	} else if t.cfg.OnSuccess != nil {
		t.cfg.OnSuccess(resp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.stopped {
		return
	}
	if t.cfg.MaxTimes > 0 && attempts >= t.cfg.MaxTimes {
		delete(s.tasks, t.cfg.Key)
		s.logger.Info("polling exhausted",
			zap.String("key", t.cfg.Key),
			zap.Int("iterations", attempts),
		)
		return
	}

	t.timer = time.AfterFunc(t.cfg.Interval, func() {
		s.iterate(ctx, t)
	})
}
