// Package maintenance runs the background jobs of the server on cron
// schedules: MCP reconnects and generated-image cleanup.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"omni-agent/internal/domain"
)

const defaultTaskTimeout = 5 * time.Minute

// Task is one named job.
type Task struct {
	Name string
	// Schedule is a standard cron spec ("*/5 * * * *", "@daily", "@every 10m")
	// or a Go duration ("30m").
	Schedule string
	Run      func(ctx context.Context) error
	Timeout  time.Duration
}

// RunReport is the payload of EventMaintenanceRun.
type RunReport struct {
	Task     string `json:"task"`
	Duration string `json:"duration"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Scheduler runs tasks on their schedules. Runs of one task never overlap.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	scheds  map[string]cron.Schedule
	tasks   map[string]Task
	bus     domain.EventBus
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler. bus may be nil.
func NewScheduler(bus domain.EventBus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: make(map[string]cron.EntryID),
		scheds:  make(map[string]cron.Schedule),
		tasks:   make(map[string]Task),
		bus:     bus,
		logger:  logger,
	}
}

// Add registers a task. An empty schedule disables the task.
func (s *Scheduler) Add(task Task) error {
	if task.Schedule == "" {
		s.logger.Info("maintenance task disabled", "task", task.Name)
		return nil
	}
	if task.Run == nil {
		return fmt.Errorf("maintenance: task %q has no run func", task.Name)
	}
	schedule, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("maintenance: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}
	if task.Timeout <= 0 {
		task.Timeout = defaultTaskTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("maintenance: task %q already registered", task.Name)
	}
	s.tasks[task.Name] = task
	s.scheds[task.Name] = schedule
	s.entries[task.Name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			return
		}
		s.execute(ctx, task)
	}))
	s.logger.Info("maintenance task scheduled", "task", task.Name, "schedule", task.Schedule)
	return nil
}

// RunNow runs a registered task immediately in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return domain.NewDomainError("maintenance.run", domain.ErrNotFound, name)
	}
	return s.execute(ctx, task)
}

// NextRun returns the next scheduled run of a task, or the zero time for an
// unknown task. Before Start it is computed from the schedule.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	sched := s.scheds[name]
	started := s.started
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	if started {
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			return next
		}
	}
	return sched.Next(time.Now())
}

// Names returns the registered task names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Scheduler) execute(ctx context.Context, task Task) error {
	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	start := time.Now()
	err := task.Run(taskCtx)
	report := RunReport{Task: task.Name, Duration: time.Since(start).String(), Success: err == nil}
	if err != nil {
		report.Error = err.Error()
		s.logger.Warn("maintenance task failed", "task", task.Name, "error", err, "duration", time.Since(start))
	} else {
		s.logger.Debug("maintenance task completed", "task", task.Name, "duration", time.Since(start))
	}
	if s.bus != nil {
		s.bus.Publish(ctx, domain.NewEvent(domain.EventMaintenanceRun, "", report))
	}
	return err
}

// Start begins running scheduled tasks until ctx is cancelled or Stop is called.
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
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// ParseSchedule parses a standard cron spec, falling back to a Go duration.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if sched, err := cron.ParseStandard(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", spec)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", spec)
	}
	return constantDelay(d), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
