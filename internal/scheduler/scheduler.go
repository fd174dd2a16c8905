package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Task is a periodic job. ctx is cancelled on Stop or when the job times out.
type Task func(ctx context.Context)

type Config struct {
	// JobTimeout bounds a single run; 10 minutes when zero.
	JobTimeout time.Duration
}

// Scheduler runs tasks on cron specs inside the bot process. Runs of the same
// task never overlap.
type Scheduler struct {
	cron       *cron.Cron
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	tasks      map[string]*guardedTask
}

type guardedTask struct {
	name string
	run  Task
	busy sync.Mutex
}

func NewScheduler(config Config) *Scheduler {
	if config.JobTimeout <= 0 {
		config.JobTimeout = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithLogger(cronLogger{})),
		jobTimeout: config.JobTimeout,
		ctx:        ctx,
		cancel:     cancel,
		tasks:      make(map[string]*guardedTask),
	}
}

// Add registers task under name with a standard five-field cron spec or a descriptor like "@daily".
func (s *Scheduler) Add(name, spec string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[name]; dup {
		return fmt.Errorf("scheduler: task %q already registered", name)
	}
	gt := &guardedTask{name: name, run: task}
	if _, err := s.cron.AddFunc(spec, func() { s.execute(gt) }); err != nil {
		return fmt.Errorf("scheduler: task %q: %w", name, err)
	}
	s.tasks[name] = gt
	return nil
}

// Trigger runs a registered task right away, in the background.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	gt, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	go s.execute(gt)
	return true
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	log.Info().Int("tasks", len(s.tasks)).Msg("scheduler started")
}

// Stop prevents new runs and waits for the ones in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Info().Msg("stopping scheduler...")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) execute(gt *guardedTask) {
	if s.ctx.Err() != nil {
		return
	}
	if !gt.busy.TryLock() {
		log.Warn().Str("task", gt.name).Msg("previous run still in progress, skipping")
		return
	}
	defer gt.busy.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", gt.name).Interface("panic", r).Msg("scheduled task panicked")
		}
	}()
	gt.run(ctx)
	log.Debug().Str("task", gt.name).Dur("took", time.Since(started)).Msg("scheduled task finished")
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
