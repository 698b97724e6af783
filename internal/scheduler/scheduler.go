package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron
	Ctx  context.Context

	mu    sync.Mutex
	tasks map[string]Task
}

// NewScheduler creates a new Scheduler using six-field (seconds) specs.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{
		Cron:  cron.New(cron.WithSeconds()),
		Ctx:   ctx,
		tasks: make(map[string]Task),
	}
}

// Register adds a named task on a cron spec.
func (s *Scheduler) Register(name, spec string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %s is already registered", name)
	}
	if _, err := s.Cron.AddFunc(spec, func() { s.run(name, task) }); err != nil {
		return fmt.Errorf("register %s task: %w", name, err)
	}
	s.tasks[name] = task
	log.Printf("[INFO] task %s scheduled: %s", name, spec)
	return nil
}

// Tasks returns the registered task names, sorted.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for n := range s.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for running tasks.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

// RunNow executes a task immediately (manual trigger / run on start).
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %s", name)
	}
	return s.run(name, task)
}

func (s *Scheduler) run(name string, task Task) error {
	log.Printf("[INFO] running %s task", name)
	if err := task(s.Ctx); err != nil {
		log.Printf("[ERROR] %s task: %v", name, err)
		return err
	}
	log.Printf("[INFO] %s task finished", name)
	return nil
}
