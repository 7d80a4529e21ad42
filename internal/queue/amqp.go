package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

// AMQPQueue publishes and consumes hand-offs through RabbitMQ. Topics map to
// durable queues of the same name.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex // guards ch, declared and consumers
	log  *zap.Logger

	declared  map[string]bool
	consumers []string
	closing   atomic.Bool
	wg        sync.WaitGroup
}

// DialAMQP connects to url. prefetch caps the unacked deliveries, and so the
// campaigns handled at once, across this process's consumers.
func DialAMQP(url string, prefetch int, log *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
	}
	return &AMQPQueue{conn: conn, ch: ch, log: logger.OrNop(log), declared: map[string]bool{}}, nil
}

func (q *AMQPQueue) declare(topic string) error {
	if q.declared[topic] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(_ context.Context, topic string, campaignID int64) error {
	body, err := encodeJob(campaignID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.declare(topic); err != nil {
		return err
	}
	return q.ch.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Subscribe consumes topic until ctx is done, the channel closes or Close is
// called. Each delivery runs in its own goroutine and is acked after the
// handler returns: the handler records its own outcome on the campaign, so a
// redelivery could only hit a claim conflict.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	tag := topic + "-" + uuid.NewString()

	q.mu.Lock()
	if err := q.declare(topic); err != nil {
		q.mu.Unlock()
		return err
	}
	msgs, err := q.ch.Consume(
		topic,
		tag,
		false, // autoAck = false so a crash mid-handler leaves the job queued
		false,
		false,
		false,
		nil,
	)
	if err == nil {
		q.consumers = append(q.consumers, tag)
	}
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	q.wg.Add(1)
	go q.consume(ctx, topic, msgs, handler)
	return nil
}

func (q *AMQPQueue) consume(ctx context.Context, topic string, msgs <-chan amqp.Delivery, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			if q.closing.Load() {
				// back to the broker for another worker
				if err := d.Nack(false, true); err != nil {
					q.log.Warn("requeue failed", zap.String("topic", topic), zap.Error(err))
				}
				continue
			}
			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				q.handle(ctx, topic, d, handler)
			}()
		}
	}
}

func (q *AMQPQueue) handle(ctx context.Context, topic string, d amqp.Delivery, handler Handler) {
	log := q.log.With(zap.String("topic", topic))
	id, err := decodeJob(d.Body)
	if err != nil {
		log.Warn("invalid job", zap.ByteString("body", d.Body), zap.Error(err))
		_ = d.Ack(false)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", zap.Int64("campaign_id", id), zap.Any("panic", r))
		}
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", zap.Int64("campaign_id", id), zap.Error(err))
		}
	}()
	if err := handler(ctx, id); err != nil {
		log.Warn("job failed", zap.Int64("campaign_id", id), zap.Error(err))
	}
}

// Close stops the consumers, waits for running handlers to finish and then
// closes the connection.
func (q *AMQPQueue) Close() error {
	q.closing.Store(true)

	q.mu.Lock()
	for _, tag := range q.consumers {
		if err := q.ch.Cancel(tag, false); err != nil {
			q.log.Warn("cancel consumer", zap.String("consumer", tag), zap.Error(err))
		}
	}
	q.consumers = nil
	q.mu.Unlock()

	q.wg.Wait()

	chErr := q.ch.Close()
	connErr := q.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}
