package services

import (
	"context"
	"time"

	"libreria/internal/config"
	"libreria/internal/models"
	"libreria/internal/repositories"

	"github.com/sirupsen/logrus"
)

// Publisher delivers one outbox message to the event broker. rabbitmq.Client
// and kafka.Publisher implement it.
type Publisher interface {
	Publish(ctx context.Context, routingKey, key string, body []byte) error
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	Logger *logrus.Logger
}

func (p LogPublisher) Publish(ctx context.Context, routingKey, key string, body []byte) error {
	p.Logger.WithFields(logrus.Fields{
		"routing_key": routingKey,
		"key":         key,
		"body":        string(body),
	}).Info("event published")
	return nil
}

// OutboxConfig tunes the dispatcher.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// OutboxDispatcher publishes committed outbox rows. It runs on a poll
// interval and immediately after Kick. Publish failures are retried with
// backoff and never reach the operation that recorded the message.
type OutboxDispatcher struct {
	repo      repositories.OutboxRepository
	publisher Publisher
	logger    *logrus.Logger
	cfg       OutboxConfig
	kick      chan struct{}
	now       func() time.Time
}

// NewOutboxDispatcher creates a new OutboxDispatcher.
func NewOutboxDispatcher(repo repositories.OutboxRepository, publisher Publisher, logger *logrus.Logger, cfg OutboxConfig) *OutboxDispatcher {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		kick:      make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Kick asks for a dispatch round without blocking.
func (d *OutboxDispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is done.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.kick:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(d.logger, "outbox", "Run", "dispatch round failed", nil, err)
		}
	}
}

// DispatchOnce publishes every due message, batch by batch, and returns how
// many were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	sent := 0
	for {
		msgs, err := d.repo.PullPending(ctx, d.now(), d.cfg.BatchSize)
		if err != nil {
			return sent, err
		}
		progressed := 0
		for _, msg := range msgs {
			if d.deliver(ctx, msg) {
				sent++
				progressed++
			}
		}
		if len(msgs) < d.cfg.BatchSize || progressed == 0 {
			return sent, nil
		}
	}
}

func (d *OutboxDispatcher) deliver(ctx context.Context, msg models.OutboxMessage) bool {
	err := d.publisher.Publish(ctx, msg.Topic, msg.AggregateID, msg.Payload)
	now := d.now()
	if err == nil {
		if markErr := d.repo.MarkSent(ctx, msg.ID, now); markErr != nil {
			config.LogError(d.logger, "outbox", "deliver", "could not mark message sent", msg.ID, markErr)
		}
		return true
	}

	attempts := msg.Attempts + 1
	dead := attempts >= d.cfg.MaxAttempts
	var next *time.Time
	if !dead {
		at := now.Add(backoff(attempts))
		next = &at
	}
	if markErr := d.repo.MarkFailed(ctx, msg.ID, err.Error(), next, dead); markErr != nil {
		config.LogError(d.logger, "outbox", "deliver", "could not mark message failed", msg.ID, markErr)
	}
	entry := d.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"topic":      msg.Topic,
		"attempts":   attempts,
	}).WithError(err)
	if dead {
		entry.Error("outbox message discarded after max attempts")
	} else {
		entry.Warn("outbox publish failed, will retry")
	}
	return false
}

// backoff doubles from one second up to five minutes.
func backoff(attempts int) time.Duration {
	d := time.Second << min(attempts-1, 9)
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}
