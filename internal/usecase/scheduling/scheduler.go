// Package scheduling runs the assistant's housekeeping jobs, such as audit
// retention and periodic health reports, on cron expressions or fixed
// intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shopassist/internal/infra/logger"
)

// taskTimeout bounds a single run of a task.
const taskTimeout = 5 * time.Minute

// Task is a named recurring job.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *", descriptor "@hourly", or duration "30m"
	Run      func(ctx context.Context) error
}

// Scheduler runs tasks on their schedules. Runs of the same task never
// overlap; a run still in progress when the next one is due is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	tasks   []string
}

// New creates a scheduler.
func New(l *slog.Logger) *Scheduler {
	l = logger.OrDiscard(l)
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: l,
	}
}

// Add registers task. It may be called before or after Start.
func (s *Scheduler) Add(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("scheduler: task %q has no run function", task.Name)
	}
	schedule, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: task %q: %w", task.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(task) }))
	s.tasks = append(s.tasks, task.Name)
	s.logger.Info("task scheduled", "task", task.Name, "schedule", task.Schedule)
	return nil
}

func (s *Scheduler) run(task Task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	if err := task.Run(ctx); err != nil {
		s.logger.Warn("scheduled task failed", "task", task.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("scheduled task completed", "task", task.Name, "duration", time.Since(start))
}

// Tasks returns the names of registered tasks in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tasks...)
}

// Start begins running tasks. Task contexts derive from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// ParseSchedule accepts a five-field cron expression, a descriptor such as
// "@hourly", or a positive Go duration.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(expr); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(expr)
	if err != nil {
		return nil, fmt.Errorf("not a cron expression or duration: %q", expr)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", expr)
	}
	return cron.Every(d), nil
}
