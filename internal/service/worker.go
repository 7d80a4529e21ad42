package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// Runner processes one claimed campaign.
type Runner interface {
	Run(ctx context.Context, campaignID int64) error
}

// Worker consumes claimed campaign IDs from a queue and runs the pipeline.
type Worker struct {
	Runner Runner
	Logger *zap.Logger
}

// NewWorker returns a Worker that runs each job through runner.
func NewWorker(runner Runner, log *zap.Logger) *Worker {
	return &Worker{Runner: runner, Logger: logger.OrNop(log)}
}

// Handle is the queue handler. A stale job for a campaign that is no longer
// processing is dropped quietly.
func (w *Worker) Handle(ctx context.Context, campaignID int64) error {
	err := w.Runner.Run(ctx, campaignID)
	if errors.Is(err, appErrors.ErrClaimConflict) || isMissingCampaign(err) {
		logger.OrNop(w.Logger).Debug("dropping stale job", zap.Int64("campaign_id", campaignID), zap.Error(err))
		return nil
	}
	return err
}

// Start subscribes the worker to topic until ctx is done.
func (w *Worker) Start(ctx context.Context, q queue.Queue, topic string) error {
	if err := q.Subscribe(ctx, topic, w.Handle); err != nil {
		return err
	}
	logger.OrNop(w.Logger).Info("worker subscribed", zap.String("topic", topic))
	return nil
}

func isMissingCampaign(err error) bool {
	var nf *appErrors.ErrCampaignNotFound
	return errors.As(err, &nf)
}
