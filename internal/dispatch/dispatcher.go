package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
)

const (
	DefaultBatchSize   = 50
	DefaultPacing      = 200 * time.Millisecond
	DefaultSendTimeout = 30 * time.Second
)

// Job is one campaign's delivery pass.
type Job struct {
	CampaignID int64
	RunID      string
	Channel    model.Channel
	Recipients []model.Recipient
	Sender     sender.Sender
	// Compose builds the delivery for one recipient; Address is filled in by the dispatcher.
	Compose func(r model.Recipient) sender.Delivery
}

// Dispatcher delivers a job in fixed-size batches. Sends inside a batch run
// concurrently with staggered starts; a batch fully completes before the
// next one begins.
type Dispatcher struct {
	BatchSize   int
	Pacing      time.Duration
	SendTimeout time.Duration
	Logger      *zap.Logger
}

func New(batchSize int, pacing, sendTimeout time.Duration, log *zap.Logger) *Dispatcher {
	return &Dispatcher{BatchSize: batchSize, Pacing: pacing, SendTimeout: sendTimeout, Logger: logger.OrNop(log)}
}

// Dispatch returns one result per recipient, in recipient order.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) []model.DeliveryResult {
	log := logger.OrNop(d.Logger).With(zap.Int64("campaign_id", job.CampaignID), zap.String("run_id", job.RunID))
	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	results := make([]model.DeliveryResult, len(job.Recipients))
	for start := 0; start < len(job.Recipients); start += batchSize {
		end := min(start+batchSize, len(job.Recipients))
		batchStart := time.Now()

		d.runBatch(ctx, job, start, end, results)

		log.Debug("batch finished",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Duration("duration", time.Since(batchStart)))
	}
	return results
}

func (d *Dispatcher) runBatch(ctx context.Context, job Job, start, end int, results []model.DeliveryResult) {
	var limiter *rate.Limiter
	if d.Pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(d.Pacing), 1)
	}

	var g errgroup.Group
	for i := start; i < end; i++ {
		r := job.Recipients[i]
		addr := r.Address(job.Channel)
		if addr == "" {
			results[i] = failed(r, "", missingAddress(job.Channel))
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				results[i] = failed(r, addr, err.Error())
				continue
			}
		}
		i := i
		g.Go(func() error {
			results[i] = d.deliver(ctx, job, r, addr)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, job Job, r model.Recipient, addr string) model.DeliveryResult {
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delivery := sender.Delivery{RecipientName: r.Name}
	if job.Compose != nil {
		delivery = job.Compose(r)
	}
	delivery.Address = addr

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.OrNop(d.Logger).Error("panic in channel sender",
					zap.Int64("campaign_id", job.CampaignID),
					zap.Any("panic", p),
					zap.String("stack", string(debug.Stack())))
				done <- fmt.Errorf("sender panic: %v", p)
			}
		}()
		done <- job.Sender.Send(sendCtx, delivery)
	}()

	var err error
	select {
	case err = <-done:
	case <-sendCtx.Done():
		err = sendCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("send timed out after %s", timeout)
	}
	if err != nil {
		logger.OrNop(d.Logger).Warn("delivery failed",
			zap.Int64("campaign_id", job.CampaignID),
			zap.String("recipient", addr),
			zap.String("channel", string(job.Channel)),
			zap.Error(err))
		return failed(r, addr, err.Error())
	}
	return model.DeliveryResult{RecipientID: r.ID, Name: r.Name, Address: addr, Outcome: model.OutcomeSent}
}

func failed(r model.Recipient, addr, reason string) model.DeliveryResult {
	return model.DeliveryResult{RecipientID: r.ID, Name: r.Name, Address: addr, Outcome: model.OutcomeFailed, Error: reason}
}

func missingAddress(ch model.Channel) string {
	if ch == model.ChannelWhatsApp {
		return "missing phone number"
	}
	return "missing email address"
}
