package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/audience"
	"github.com/unclebandit/campaign-dispatch/internal/dispatch"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
)

// AudienceResolver turns a campaign's audience into recipients.
type AudienceResolver interface {
	Resolve(ctx context.Context, c *model.Campaign) ([]model.Recipient, error)
}

// Pipeline runs the single processing pass of a claimed campaign and moves it
// to a terminal status.
type Pipeline struct {
	Campaigns  repository.CampaignRepositoryInterface
	Messages   repository.MessageRepositoryInterface
	Resolver   AudienceResolver
	Senders    *sender.Registry
	Dispatcher *dispatch.Dispatcher
	Lifecycle  *Lifecycle
	Logger     *zap.Logger

	// NewRunID stamps each pass; defaults to a random UUID.
	NewRunID func() string
}

func NewPipeline(stores repository.Stores, senders *sender.Registry, d *dispatch.Dispatcher, lifecycle *Lifecycle, log *zap.Logger) *Pipeline {
	return &Pipeline{
		Campaigns:  stores.Campaigns,
		Messages:   stores.Messages,
		Resolver:   audience.NewResolver(stores.Customers, stores.Customers, log),
		Senders:    senders,
		Dispatcher: d,
		Lifecycle:  lifecycle,
		Logger:     logger.OrNop(log),
	}
}

// Run processes campaign id, which must already be in processing. Any error
// after the claim, including panics and a failed results write, ends the
// campaign in failed.
func (p *Pipeline) Run(ctx context.Context, id int64) (err error) {
	log := logger.OrNop(p.Logger).With(zap.Int64("campaign_id", id))
	// terminal writes must land even when the caller is shutting down
	writeCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("dispatch panicked: %v", r)
			p.fail(writeCtx, id, err, log)
		}
	}()

	c, err := p.Campaigns.GetByID(ctx, id)
	if err != nil {
		var nf *appErrors.ErrCampaignNotFound
		if !errors.As(err, &nf) {
			p.fail(writeCtx, id, err, log)
		}
		return err
	}
	if c.Status != model.StatusProcessing {
		return fmt.Errorf("%w: status is %s", appErrors.ErrClaimConflict, c.Status)
	}

	summary, err := p.process(ctx, c, log)
	if err != nil {
		p.fail(writeCtx, id, err, log)
		return err
	}
	if err := p.Lifecycle.Complete(writeCtx, id, summary); err != nil {
		if !errors.Is(err, appErrors.ErrClaimConflict) {
			p.fail(writeCtx, id, fmt.Errorf("record results: %w", err), log)
		}
		return err
	}
	return nil
}

// fail moves the campaign to failed. A campaign that is no longer processing
// has already reached a terminal status and is left alone.
func (p *Pipeline) fail(ctx context.Context, id int64, cause error, log *zap.Logger) {
	if err := p.Lifecycle.Fail(ctx, id, cause); err != nil {
		log.Error("record failure", zap.NamedError("cause", cause), zap.Error(err))
	}
}

func (p *Pipeline) process(ctx context.Context, c *model.Campaign, log *zap.Logger) (model.ResultsSummary, error) {
	msg, err := p.Messages.GetByCampaignID(ctx, c.ID)
	if err != nil {
		return model.ResultsSummary{}, err
	}

	recipients, err := p.Resolver.Resolve(ctx, c)
	if err != nil {
		return model.ResultsSummary{}, err
	}

	snd, err := p.Senders.For(c.Channel)
	if err != nil {
		return model.ResultsSummary{}, err
	}

	runID := p.runID()
	log = log.With(zap.String("run_id", runID), zap.String("channel", string(c.Channel)))
	log.Info("dispatch started", zap.Int("recipients", len(recipients)))
	started := time.Now()

	results := p.Dispatcher.Dispatch(ctx, dispatch.Job{
		CampaignID: c.ID,
		RunID:      runID,
		Channel:    c.Channel,
		Recipients: recipients,
		Sender:     snd,
		Compose:    composer(c, msg),
	})
	// sends skipped by a cancelled pass are not delivery outcomes
	if err := ctx.Err(); err != nil {
		return model.ResultsSummary{}, fmt.Errorf("dispatch interrupted: %w", err)
	}
	summary := dispatch.Aggregate(runID, results)

	log.Info("dispatch finished",
		zap.Int("sent", summary.SuccessCount),
		zap.Int("failed", summary.FailureCount),
		zap.Duration("duration", time.Since(started)))
	return summary, nil
}

// composer builds the per-recipient delivery. Email uses the campaign name as
// subject; WhatsApp carries the provider template name there instead.
func composer(c *model.Campaign, msg *model.Message) func(model.Recipient) sender.Delivery {
	subject := c.Name
	if c.Channel == model.ChannelWhatsApp {
		subject = c.Template()
	}
	return func(r model.Recipient) sender.Delivery {
		return sender.Delivery{
			OwnerID:       c.OwnerID,
			RecipientName: r.Name,
			CampaignName:  c.Name,
			Subject:       subject,
			Body:          Personalize(msg.Content, r),
			Attachment:    msg.Attachment(),
		}
	}
}

func (p *Pipeline) runID() string {
	if p.NewRunID != nil {
		return p.NewRunID()
	}
	return uuid.New().String()
}
