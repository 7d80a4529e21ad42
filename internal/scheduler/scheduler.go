// Package scheduler polls for campaigns whose scheduled time has passed and
// claims them for dispatch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const (
	DefaultInterval = time.Minute
	// DefaultDueLimit caps how many due campaigns a single tick picks up.
	DefaultDueLimit = 100
)

// Clock is the time source for due checks.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// DueLister finds scheduled campaigns due at now.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
}

// Claimer moves a campaign into processing exactly once.
type Claimer interface {
	Claim(ctx context.Context, id int64) (*model.Campaign, error)
}

// Handoff starts processing of a claimed campaign without waiting for it.
type Handoff func(ctx context.Context, c *model.Campaign) error

type Scheduler struct {
	Interval time.Duration
	DueLimit int
	Clock    Clock
	Due      DueLister
	Claimer  Claimer
	Handoff  Handoff
	Logger   *zap.Logger

	mu      sync.Mutex
	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
}

func New(interval time.Duration, clock Clock, due DueLister, claimer Claimer, handoff Handoff, log *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		Interval: interval,
		DueLimit: DefaultDueLimit,
		Clock:    clock,
		Due:      due,
		Claimer:  claimer,
		Handoff:  handoff,
		Logger:   logger.OrNop(log),
	}
}

// Start registers the poll with cron and returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	// SkipIfStillRunning keeps ticks from overlapping on a slow store.
	s.c = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	runCtx := s.runCtx
	if _, err := s.c.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.Tick(runCtx) }); err != nil {
		s.cancel()
		return fmt.Errorf("register scheduler tick: %w", err)
	}
	s.c.Start()
	s.running = true

	logger.OrNop(s.Logger).Info("scheduler started", zap.Duration("interval", interval))
	return nil
}

// Stop halts future ticks and waits for a running tick, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c, cancel := s.c, s.cancel
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
		logger.OrNop(s.Logger).Info("scheduler stopped")
	case <-ctx.Done():
		logger.OrNop(s.Logger).Warn("scheduler stop timed out", zap.Error(ctx.Err()))
	}
}

// Tick claims every campaign due now and hands each off. It returns the
// number of campaigns claimed. Errors are logged per campaign and never end
// the tick early.
func (s *Scheduler) Tick(ctx context.Context) int {
	log := logger.OrNop(s.Logger)
	now := s.clock().Now()

	limit := s.DueLimit
	if limit <= 0 {
		limit = DefaultDueLimit
	}
	due, err := s.Due.ListDue(ctx, now, limit)
	if err != nil {
		log.Error("list due campaigns", zap.Error(err))
		return 0
	}

	claimed := 0
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		got, err := s.Claimer.Claim(ctx, c.ID)
		if err != nil {
			if errors.Is(err, appErrors.ErrClaimConflict) {
				log.Debug("campaign already claimed", zap.Int64("campaign_id", c.ID))
			} else {
				log.Error("claim campaign", zap.Int64("campaign_id", c.ID), zap.Error(err))
			}
			continue
		}
		claimed++
		if err := s.Handoff(ctx, got); err != nil {
			log.Error("hand off campaign", zap.Int64("campaign_id", c.ID), zap.Error(err))
		}
	}

	if len(due) > 0 {
		log.Info("scheduler tick",
			zap.Time("now", now),
			zap.Int("due", len(due)),
			zap.Int("claimed", claimed))
	}
	return claimed
}

func (s *Scheduler) clock() Clock {
	if s.Clock == nil {
		return RealClock{}
	}
	return s.Clock
}
