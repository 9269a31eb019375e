package services

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/store"
)

const (
	publisherMaxAttempts = 5
	publisherBaseDelay   = 100 * time.Millisecond
)

// Publisher delivers flush payloads to the ranking consumer queue with
// at-least-once semantics. Payloads are idempotent on the consumer side,
// keyed by intent ID.
type Publisher struct {
	queue          store.RankingQueue
	enqueueTimeout time.Duration
	maxAttempts    int
	baseDelay      time.Duration
	logger         zerolog.Logger
	metrics        *Metrics
}

// NewPublisher creates a Publisher over the given queue
func NewPublisher(queue store.RankingQueue, enqueueTimeout time.Duration, logger zerolog.Logger, metrics *Metrics) *Publisher {
	return &Publisher{
		queue:          queue,
		enqueueTimeout: enqueueTimeout,
		maxAttempts:    publisherMaxAttempts,
		baseDelay:      publisherBaseDelay,
		logger:         logger.With().Str(logging.FieldModule, "publisher").Logger(),
		metrics:        metrics,
	}
}

// Enqueue pushes a ranking payload, retrying transient queue failures
// with exponential backoff and jitter. Exhausted retries are terminal:
// the caller marks the intent lost.
func (p *Publisher) Enqueue(ctx context.Context, payload *models.RankingPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encoding ranking payload for intent %s", payload.IntentID)
	}

	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.baseDelay * time.Duration(1<<(attempt-1))
			delay += time.Duration(rand.Int63n(int64(p.baseDelay)))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "enqueue cancelled")
			}
		}

		pushCtx, cancel := context.WithTimeout(ctx, p.enqueueTimeout)
		err := p.queue.PushRanking(pushCtx, data)
		cancel()

		if err == nil {
			p.metrics.IncFlushesPublished()
			p.logger.Info().
				Str(logging.FieldIntent, payload.IntentID).
				Int("passed_solutions", len(payload.PassedSolutions)).
				Msg("Ranking payload enqueued")
			return nil
		}

		lastErr = err
		p.logger.Warn().
			Err(err).
			Str(logging.FieldIntent, payload.IntentID).
			Int("attempt", attempt+1).
			Msg("Failed to enqueue ranking payload")
	}

	return errors.Wrapf(lastErr, "enqueue retries exhausted for intent %s", payload.IntentID)
}
