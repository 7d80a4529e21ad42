package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// Lifecycle owns every status change of a campaign. Each step is a single
// conditional write in the repository.
type Lifecycle struct {
	Campaigns repository.CampaignRepositoryInterface
	Logger    *zap.Logger
}

func NewLifecycle(campaigns repository.CampaignRepositoryInterface, log *zap.Logger) *Lifecycle {
	return &Lifecycle{Campaigns: campaigns, Logger: logger.OrNop(log)}
}

// Claim moves a pending or scheduled campaign to processing. Concurrent
// callers get exactly one success; the rest see appErrors.ErrClaimConflict.
func (l *Lifecycle) Claim(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := l.Campaigns.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.OrNop(l.Logger).Info("campaign claimed",
		zap.Int64("campaign_id", id),
		zap.String("status", string(c.Status)))
	return c, nil
}

func (l *Lifecycle) Complete(ctx context.Context, id int64, summary model.ResultsSummary) error {
	if err := l.Campaigns.Complete(ctx, id, summary); err != nil {
		return err
	}
	logger.OrNop(l.Logger).Info("campaign completed",
		zap.Int64("campaign_id", id),
		zap.String("run_id", summary.RunID),
		zap.Int("total", summary.TotalProcessed),
		zap.Int("sent", summary.SuccessCount),
		zap.Int("failed", summary.FailureCount))
	return nil
}

func (l *Lifecycle) Fail(ctx context.Context, id int64, cause error) error {
	if err := l.Campaigns.Fail(ctx, id, cause.Error()); err != nil {
		return err
	}
	logger.OrNop(l.Logger).Warn("campaign failed",
		zap.Int64("campaign_id", id),
		zap.Error(cause))
	return nil
}
