// Package scheduler drives the summarization pipeline on fixed intervals:
// one ticker for the per-user drain loop, one for stale-lock cleanup.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/akarpov/earshot/internal/storage"
)

// Store is the storage surface the scheduler needs.
type Store interface {
	ListUsers() ([]storage.User, error)
	ReleaseStaleLocks(olderThan time.Duration) (int64, error)
}

// UserProcessor drains one user's fragment backlog.
type UserProcessor interface {
	ProcessUser(ctx context.Context, user storage.User) error
}

// Options tune the tick intervals. Zero values fall back to the defaults.
type Options struct {
	SummarizeEvery time.Duration // default 5m
	CleanupEvery   time.Duration // default 15m
	LockTimeout    time.Duration // lock age before forced release, default 30m
}

const (
	defaultSummarizeEvery = 5 * time.Minute
	defaultCleanupEvery   = 15 * time.Minute
	defaultLockTimeout    = 30 * time.Minute
)

// Scheduler owns the two periodic tasks. It is constructed once at process
// init, started with Start, and stopped with Stop at process exit.
type Scheduler struct {
	store     Store
	processor UserProcessor

	summarizeEvery time.Duration
	cleanupEvery   time.Duration
	lockTimeout    time.Duration

	logger *slog.Logger

	// tickMu serializes summarization ticks so a manual trigger cannot
	// overlap a scheduled one for the same users.
	tickMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(store Store, processor UserProcessor, opts Options) *Scheduler {
	if opts.SummarizeEvery <= 0 {
		opts.SummarizeEvery = defaultSummarizeEvery
	}
	if opts.CleanupEvery <= 0 {
		opts.CleanupEvery = defaultCleanupEvery
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	return &Scheduler{
		store:          store,
		processor:      processor,
		summarizeEvery: opts.SummarizeEvery,
		cleanupEvery:   opts.CleanupEvery,
		lockTimeout:    opts.LockTimeout,
		logger:         slog.Default(),
	}
}

// Start launches both periodic tasks. It returns immediately; call Stop to
// shut down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, s.summarizeEvery, s.RunSummarizationTick)
	go s.loop(ctx, s.cleanupEvery, s.RunLockCleanup)

	s.logger.Info("scheduler started",
		"summarize_every", s.summarizeEvery, "cleanup_every", s.cleanupEvery)
}

// Stop cancels both tasks and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, tick func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// RunSummarizationTick drains every known user's backlog once. A failure
// for one user is logged and does not abort the remaining users. It is
// also the entry point for the administrative manual trigger.
func (s *Scheduler) RunSummarizationTick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.logger.Info("summarization tick started")

	users, err := s.store.ListUsers()
	if err != nil {
		s.logger.Error("listing users failed", "error", err)
		return
	}

	for _, user := range users {
		if ctx.Err() != nil {
			return
		}
		if err := s.processor.ProcessUser(ctx, user); err != nil {
			s.logger.Error("processing user backlog failed", "user_id", user.ID, "error", err)
		}
	}

	s.logger.Info("summarization tick finished", "users", len(users))
}

// RunLockCleanup releases locks older than the lock timeout. Runs on its
// own interval: lock staleness is caused by worker crash, not backlog size.
func (s *Scheduler) RunLockCleanup(ctx context.Context) {
	released, err := s.store.ReleaseStaleLocks(s.lockTimeout)
	if err != nil {
		s.logger.Error("releasing stale locks failed", "error", err)
		return
	}
	if released > 0 {
		s.logger.Info("released stale locks", "count", released)
	}
}
