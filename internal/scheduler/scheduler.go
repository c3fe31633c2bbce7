// Package scheduler runs long-lived work as cooperative tasks driven by the
// host's frame tick.
//
// Each task is a goroutine that only runs between a resume hand-off from Tick
// and its next Yield or Sleep, so at most one task body executes at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/stockyard/extension/internal/channel"
)

// Yielder is a suspension point. Yield returns the context error once the
// surrounding work has been cancelled.
type Yielder interface {
	Yield() error
}

// Inline is a Yielder for work run synchronously outside the scheduler.
type Inline struct {
	Ctx context.Context
}

func (i Inline) Yield() error {
	if i.Ctx == nil {
		return nil
	}
	return i.Ctx.Err()
}

// PanicError wraps a panic recovered from a task body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Func is the body of a task.
type Func func(t *Task) error

// Task is one cooperative unit of work.
type Task struct {
	name  string
	sched *Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	baton *channel.Baton
	done  chan struct{}

	// guarded by sched.mu
	wakeAt   time.Duration
	finished bool
	err      error
}

func (t *Task) Name() string { return t.name }

// Context is cancelled when the task is stopped.
func (t *Task) Context() context.Context { return t.ctx }

// Stop cancels the task. The body observes it at its next suspension point.
func (t *Task) Stop() { t.cancel() }

// Done is closed once the body has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the body's result after Done is closed.
func (t *Task) Err() error {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.err
}

// Yield hands control back to the scheduler until the next resume.
func (t *Task) Yield() error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	t.baton.Yield()
	return t.ctx.Err()
}

// Sleep yields until at least d of simulated time has passed.
func (t *Task) Sleep(d time.Duration) error {
	t.sched.mu.Lock()
	t.wakeAt = t.sched.now + d
	t.sched.mu.Unlock()
	return t.Yield()
}

func (t *Task) run(fn Func) {
	t.baton.Await()

	var err error
	if err = t.ctx.Err(); err == nil {
		err = t.invoke(fn)
	}

	t.sched.mu.Lock()
	t.finished = true
	t.err = err
	t.sched.mu.Unlock()
	t.cancel()
	close(t.done)
	t.baton.Finish()
}

func (t *Task) invoke(fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(t)
}

// Scheduler owns the task list and the simulated clock.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task
	now   time.Duration
	log   *slog.Logger

	// Clock measures the frame budget.
	Clock func() time.Time
}

func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:   log.With("component", "scheduler"),
		Clock: time.Now,
	}
}

// Go registers a new task. Its body first runs on the next Tick.
func (s *Scheduler) Go(name string, fn Func) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		name:   name,
		sched:  s,
		ctx:    ctx,
		cancel: cancel,
		baton:  channel.NewBaton(),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	t.wakeAt = s.now
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	go t.run(fn)
	return t
}

// Now returns the simulated time accumulated by Tick.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Tick advances simulated time by dt and resumes runnable tasks round-robin
// until budget is spent. At least one full pass is made. It returns the
// number of resumes performed.
func (s *Scheduler) Tick(dt, budget time.Duration) int {
	s.mu.Lock()
	s.now += dt
	s.mu.Unlock()

	start := s.Clock()
	steps := 0
	for {
		ran := s.pass()
		steps += ran
		if ran == 0 || s.Clock().Sub(start) >= budget {
			return steps
		}
	}
}

func (s *Scheduler) pass() int {
	s.mu.Lock()
	runnable := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.wakeAt <= s.now || t.ctx.Err() != nil {
			runnable = append(runnable, t)
		}
	}
	s.mu.Unlock()

	for _, t := range runnable {
		t.baton.Resume()
		s.reap(t)
	}
	return len(runnable)
}

func (s *Scheduler) reap(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.finished {
		return
	}
	for i, x := range s.tasks {
		if x == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	var pe *PanicError
	switch {
	case t.err == nil, errors.Is(t.err, context.Canceled):
	case errors.As(t.err, &pe):
		s.log.Error("Task panicked", "task", t.name, "panic", pe.Value, "stack", string(pe.Stack))
	default:
		s.log.Debug("Task finished with error", "task", t.name, "error", t.err)
	}
}

// Shutdown stops every task and drives them until they have all returned.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for _, t := range s.tasks {
		t.Stop()
	}
	s.mu.Unlock()
	for s.Len() > 0 {
		s.pass()
	}
}
