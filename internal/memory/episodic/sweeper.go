package episodic

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/waypoint/internal/store"
)

const sweepLockKey = "episodic:sweep:lock"

// StaleLister finds sessions whose history moved past their summary.
type StaleLister interface {
	ListStaleSessions(ctx context.Context, limit int) ([]store.SessionRef, error)
}

// Updater regenerates one session summary.
type Updater interface {
	Update(ctx context.Context, userID, sessionID string) (Summary, error)
}

// Sweeper periodically re-summarizes stale sessions on a cron schedule.
type Sweeper struct {
	Sessions StaleLister
	Updater  Updater
	Locker   Locker
	Schedule string
	Batch    int
	LockTTL  time.Duration
	Tick     time.Duration
	Logger   *log.Logger

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *time.Time
	now     func() time.Time
}

// Start launches the sweep loop. It is a no-op without a schedule.
func (s *Sweeper) Start() {
	if s.Schedule == "" {
		return
	}
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if s.Locker == nil {
		s.Locker = NewLocalLocker()
	}
	if s.Tick <= 0 {
		s.Tick = time.Minute
	}
	s.stop = make(chan struct{})
	ticker := time.NewTicker(s.Tick)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick(context.Background())
			}
		}
	}()
	s.Logger.Printf("episodic sweep scheduled: %s", s.Schedule)
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.stop = nil
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Sweeper) tick(ctx context.Context) {
	s.mu.Lock()
	last := s.lastRun
	s.mu.Unlock()
	now := s.clock()
	if !isDue(s.Schedule, last, now) {
		return
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	release, ok, err := s.Locker.TryLock(ctx, sweepLockKey, ttl)
	if err != nil {
		s.Logger.Printf("warn: sweep lock: %v", err)
		return
	}
	if !ok {
		return
	}
	defer release()

	s.mu.Lock()
	s.lastRun = &now
	s.mu.Unlock()
	s.sweep(ctx)
}

// sweep re-summarizes one batch of stale sessions. It returns how many
// summaries were written.
func (s *Sweeper) sweep(ctx context.Context) int {
	refs, err := s.Sessions.ListStaleSessions(ctx, s.Batch)
	if err != nil {
		s.Logger.Printf("warn: list stale sessions: %v", err)
		return 0
	}
	updated := 0
	for _, ref := range refs {
		select {
		case <-s.stop:
			return updated
		default:
		}
		if _, err := s.Updater.Update(ctx, ref.UserID, ref.SessionID); err != nil {
			if !errors.Is(err, ErrSummaryInProgress) {
				s.Logger.Printf("warn: sweep user=%s session=%s: %v", ref.UserID, ref.SessionID, err)
			}
			continue
		}
		updated++
	}
	if len(refs) > 0 {
		s.Logger.Printf("sweep finished: %d/%d sessions summarized", updated, len(refs))
	}
	return updated
}

// isDue reports whether a sweep with cronSpec should run at now given the
// previous run. "@hourly" and "@daily" are accepted along with standard
// cron expressions; an invalid expression falls back to daily.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch cronSpec {
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return now.Sub(*last) >= 24*time.Hour
	}
	return !expr.Next(*last).After(now)
}
