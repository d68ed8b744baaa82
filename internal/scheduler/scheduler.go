package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrRunInProgress = errors.New("scheduler: run already in progress")

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Job is the unit of work. ctx is cancelled on timeout or shutdown.
type Job func(ctx context.Context)

type Options struct {
	At           string // "HH:MM"
	Location     *time.Location
	PollInterval time.Duration
	JobTimeout   time.Duration
	Clock        Clock
	Locker       Locker
	Logger       *slog.Logger
}

// Scheduler fires one job daily at a wall-clock time. Runs never overlap.
type Scheduler struct {
	job     Job
	hour    int
	minute  int
	loc     *time.Location
	poll    time.Duration
	timeout time.Duration
	clock   Clock
	locker  Locker
	logger  *slog.Logger

	mu      sync.Mutex
	nextRun time.Time
	base    context.Context

	running atomic.Bool
	wg      sync.WaitGroup
}

func New(opts Options, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("scheduler: job is nil")
	}
	hour, minute, err := ParseAt(opts.At)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		job:     job,
		hour:    hour,
		minute:  minute,
		loc:     opts.Location,
		poll:    opts.PollInterval,
		timeout: opts.JobTimeout,
		clock:   opts.Clock,
		locker:  opts.Locker,
		logger:  opts.Logger,
		base:    context.Background(),
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.poll <= 0 {
		s.poll = time.Minute
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.locker == nil {
		s.locker = NoopLocker{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.nextRun = s.nextAfter(s.clock.Now())
	return s, nil
}

// ParseAt разбирает время запуска в формате HH:MM.
func ParseAt(at string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler: invalid time %q, want HH:MM: %w", at, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Start polls for due work until ctx is cancelled. It blocks.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.logger.Info("[scheduler] started", "next_run", s.NextRun().Format(time.RFC3339), "poll", s.poll.String())

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.Tick(ctx, s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[scheduler] stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, s.clock.Now())
		}
	}
}

// Tick starts the job if it is due at now. Reports whether a run was started.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	if now.Before(s.nextRun) {
		s.mu.Unlock()
		return false
	}
	due := s.nextRun
	s.nextRun = s.nextAfter(now)
	next := s.nextRun
	s.mu.Unlock()

	s.logger.Info("[scheduler] job due", "due", due.Format(time.RFC3339), "next_run", next.Format(time.RFC3339))
	if !s.start(ctx, due, true) {
		// Слот не теряем: повторим на следующем опросе.
		s.mu.Lock()
		if s.nextRun.Equal(next) {
			s.nextRun = due
		}
		s.mu.Unlock()
		s.logger.Warn("[scheduler] previous run still in flight, retrying on next poll", "due", due.Format(time.RFC3339))
		return false
	}
	return true
}

// RunNow triggers an immediate run outside the schedule. The run is bound to
// the context passed to Start, not to the caller's.
func (s *Scheduler) RunNow() error {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	if !s.start(base, s.clock.Now(), false) {
		s.logger.Warn("[scheduler] manual trigger rejected, run in flight")
		return ErrRunInProgress
	}
	s.logger.Info("[scheduler] manual run started")
	return nil
}

func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Wait blocks until the in-flight run, if any, returns.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) start(ctx context.Context, due time.Time, scheduled bool) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("[scheduler] job panicked", "panic", fmt.Sprint(r))
			}
		}()

		runCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		// Блокировка по дню нужна только плановым запускам: ручной запуск
		// явно просит повторить отчёт.
		if scheduled {
			day := due.In(s.loc).Format("2006-01-02")
			ok, err := s.locker.TryLock(runCtx, day)
			if err != nil {
				s.logger.Warn("[scheduler] run lock unavailable, running anyway", "day", day, "error", err.Error())
			} else if !ok {
				s.logger.Info("[scheduler] day already claimed by another replica", "day", day)
				return
			}
		}

		s.job(runCtx)
	}()
	return true
}

// nextAfter returns the first HH:MM strictly after now in the scheduler's zone.
func (s *Scheduler) nextAfter(now time.Time) time.Time {
	local := now.In(s.loc)
	y, m, d := local.Date()
	candidate := time.Date(y, m, d, s.hour, s.minute, 0, 0, s.loc)
	if !candidate.After(local) {
		candidate = time.Date(y, m, d+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return candidate
}
