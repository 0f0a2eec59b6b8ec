// Package scheduler runs named periodic tasks, each on its own goroutine,
// with per-task error isolation so one failing task never stops another
// or the scheduler itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/overblick/agentcore/pkg/models"
	"github.com/rs/zerolog/log"
)

type task struct {
	name           string
	fn             contracts.TaskFunc
	interval       time.Duration
	runImmediately bool
	enabled        bool

	mu         sync.Mutex
	nextDue    time.Time
	runCount   int
	errorCount int

	cancel context.CancelFunc
}

// Scheduler is the concrete implementation of contracts.Scheduler.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	running bool
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

var _ contracts.Scheduler = (*Scheduler)(nil)

// Add registers a new task. Duplicate names are an error.
func (s *Scheduler) Add(name string, fn contracts.TaskFunc, interval time.Duration, runImmediately bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task already registered: %s", name)
	}
	s.tasks[name] = &task{
		name:           name,
		fn:             fn,
		interval:       interval,
		runImmediately: runImmediately,
		enabled:        true,
		nextDue:        time.Now().Add(interval),
	}
	if s.running {
		s.startTask(s.tasks[name])
	}
	return nil
}

// Remove cancels and forgets a task.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("no such task: %s", name)
	}
	if t.cancel != nil {
		t.cancel()
	}
	delete(s.tasks, name)
	return nil
}

// Start launches one goroutine per registered task and blocks until ctx is
// cancelled, then stops every task before returning. Calling Stop directly
// cancels the tasks but does not make Start return.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	for _, t := range s.tasks {
		s.startTaskLocked(ctx, t)
	}
	s.mu.Unlock()

	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) startTask(t *task) {
	// Called with s.mu held, for tasks registered after Start.
	s.startTaskLocked(context.Background(), t)
}

func (s *Scheduler) startTaskLocked(parent context.Context, t *task) {
	taskCtx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(taskCtx, t)
	}()
}

// Stop cancels every running task and is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, t := range s.tasks {
		if t.cancel != nil {
			t.cancel()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Stats returns a read-only snapshot of every task's counters.
func (s *Scheduler) Stats() map[string]models.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.ScheduledTask, len(s.tasks))
	for name, t := range s.tasks {
		t.mu.Lock()
		out[name] = models.ScheduledTask{
			Name:            t.name,
			IntervalSeconds: t.interval.Seconds(),
			NextDue:         t.nextDue,
			RunCount:        t.runCount,
			ErrorCount:      t.errorCount,
			Enabled:         t.enabled,
			RunImmediately:  t.runImmediately,
		}
		t.mu.Unlock()
	}
	return out
}

func (s *Scheduler) runLoop(ctx context.Context, t *task) {
	if t.runImmediately {
		s.execute(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.interval):
		}

		t.mu.Lock()
		enabled := t.enabled
		t.mu.Unlock()
		if !enabled {
			continue
		}

		if err := s.executeErr(ctx, t); err != nil {
			t.mu.Lock()
			t.errorCount++
			t.mu.Unlock()
			log.Error().Str("task", t.name).Err(err).Msg("scheduled task failed")

			sleep := t.interval
			if sleep > 60*time.Second {
				sleep = 60 * time.Second
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	if err := s.executeErr(ctx, t); err != nil {
		t.mu.Lock()
		t.errorCount++
		t.mu.Unlock()
		log.Error().Str("task", t.name).Err(err).Msg("scheduled task failed")
	}
}

func (s *Scheduler) executeErr(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	err = t.fn(ctx)
	if err == nil {
		t.mu.Lock()
		t.runCount++
		t.nextDue = time.Now().Add(t.interval)
		t.mu.Unlock()
	}
	return err
}
