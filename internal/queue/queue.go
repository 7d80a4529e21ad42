// Package queue hands claimed campaign IDs from the claiming side (API,
// scheduler) to whatever runs the dispatch pipeline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

// TopicCampaignDispatch carries IDs of campaigns already moved to processing.
const TopicCampaignDispatch = "campaign_dispatch"

// Handler processes one claimed campaign. The campaign has exactly one
// processing pass, so handlers are never retried.
type Handler func(ctx context.Context, campaignID int64) error

type Queue interface {
	Publish(ctx context.Context, topic string, campaignID int64) error
	// Subscribe registers handler for topic; ctx bounds the subscription.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Job is the wire form of a hand-off.
type Job struct {
	CampaignID int64 `json:"campaign_id"`
}

func encodeJob(id int64) ([]byte, error) {
	return json.Marshal(Job{CampaignID: id})
}

func decodeJob(b []byte) (int64, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return 0, err
	}
	if j.CampaignID <= 0 {
		return 0, fmt.Errorf("invalid campaign id %d", j.CampaignID)
	}
	return j.CampaignID, nil
}

type subscription struct {
	ctx     context.Context
	handler Handler
}

// InMemoryQueue runs every published job on its own goroutine in process.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]subscription
	wg       sync.WaitGroup
	closed   bool
	log      *zap.Logger
}

func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]subscription),
		log:      logger.OrNop(log),
	}
}

// Publish fans the campaign ID out to all subscribers of topic.
func (q *InMemoryQueue) Publish(_ context.Context, topic string, campaignID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	subs := q.handlers[topic]
	if len(subs) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, sub := range subs {
		q.wg.Add(1)
		go q.processJob(sub, topic, campaignID)
	}
	return nil
}

func (q *InMemoryQueue) processJob(sub subscription, topic string, campaignID int64) {
	defer q.wg.Done()
	log := q.log.With(zap.String("topic", topic), zap.Int64("campaign_id", campaignID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	if err := sub.handler(sub.ctx, campaignID); err != nil {
		log.Warn("job failed", zap.Error(err))
		return
	}
	log.Debug("job processed")
}

func (q *InMemoryQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	q.handlers[topic] = append(q.handlers[topic], subscription{ctx: ctx, handler: handler})
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Close rejects new publishes and waits for in-flight jobs.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
