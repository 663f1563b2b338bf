package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
)

// ScheduledTask is a function run on a fixed interval
type ScheduledTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler runs every registered task on its own ticker until stopped.
// Stop waits for all task goroutines to exit.
type Scheduler struct {
	mutex   sync.Mutex
	tasks   []ScheduledTask
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	logger  Logger
}

// NewScheduler creates an idle scheduler
func NewScheduler(logger Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Scheduler{logger: logger}
}

// Add registers a task. Tasks added while running start on the next Start.
func (s *Scheduler) Add(task ScheduledTask) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks = append(s.tasks, task)
}

// Start launches all tasks. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, task)
	}

	s.logger.Log(ctx, logging.LevelInfo, "Scheduler started", logging.Fields{"tasks": len(s.tasks)})
}

// Stop cancels every task and waits for them to return
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mutex.Unlock()

	s.wg.Wait()
	s.logger.Log(context.Background(), logging.LevelInfo, "Scheduler stopped", nil)
}

// Running reports whether the scheduler has been started and not stopped
func (s *Scheduler) Running() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.running
}

func (s *Scheduler) loop(ctx context.Context, task ScheduledTask) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task.Run(ctx)
		}
	}
}
