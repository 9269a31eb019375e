// Package blob fetches content-addressed intent and solution payloads
// from the blob store.
package blob

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/timeout"
)

const (
	defaultMaxAttempts = 4
	baseRetryDelay     = 200 * time.Millisecond
)

// Terminal fetch errors. Anything else returned by fetch is transient and
// was already retried to exhaustion.
var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobCorrupt  = errors.New("blob corrupt")
)

// IsTerminal reports whether a fetch error cannot be recovered by retrying
func IsTerminal(err error) bool {
	return errors.Is(err, ErrBlobNotFound) || errors.Is(err, ErrBlobCorrupt)
}

// Client is a content-addressed blob store client with bounded retries on
// transient failures
type Client struct {
	cli         *gentleman.Client
	maxAttempts int
	logger      zerolog.Logger
}

// New creates a blob client against baseURL. Each HTTP attempt is bounded
// by fetchTimeout.
func New(baseURL string, fetchTimeout time.Duration, logger zerolog.Logger) *Client {
	cli := gentleman.New()
	cli.BaseURL(baseURL)
	cli.Use(timeout.Request(fetchTimeout))

	return &Client{
		cli:         cli,
		maxAttempts: defaultMaxAttempts,
		logger:      logger.With().Str(logging.FieldModule, "blob").Logger(),
	}
}

// FetchIntent fetches and decodes an intent body
func (c *Client) FetchIntent(ctx context.Context, blobID string) (*models.Intent, error) {
	data, err := c.fetch(ctx, blobID)
	if err != nil {
		return nil, err
	}

	var intent models.Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, errors.Wrapf(ErrBlobCorrupt, "intent blob %s: %v", blobID, err)
	}

	return &intent, nil
}

// FetchSolution fetches and decodes a solution body
func (c *Client) FetchSolution(ctx context.Context, blobID string) (*models.Solution, error) {
	data, err := c.fetch(ctx, blobID)
	if err != nil {
		return nil, err
	}

	var solution models.Solution
	if err := json.Unmarshal(data, &solution); err != nil {
		return nil, errors.Wrapf(ErrBlobCorrupt, "solution blob %s: %v", blobID, err)
	}

	return &solution, nil
}

// fetch GETs /blob/{id}, retrying transient failures with exponential
// backoff and jitter
func (c *Client) fetch(ctx context.Context, blobID string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "blob fetch cancelled")
		}

		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			delay += time.Duration(rand.Int63n(int64(baseRetryDelay)))

			c.logger.Debug().
				Str("blob_id", blobID).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying blob fetch")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "blob fetch cancelled")
			}
		}

		res, err := c.cli.Get().AddPath("/blob/" + blobID).Do()
		if err != nil {
			lastErr = errors.Wrapf(err, "fetching blob %s", blobID)
			continue
		}

		switch {
		case res.StatusCode == 404:
			return nil, errors.Wrapf(ErrBlobNotFound, "blob %s", blobID)
		case res.StatusCode >= 500:
			lastErr = errors.Errorf("blob store returned %d for %s", res.StatusCode, blobID)
			continue
		case !res.Ok:
			// Other 4xx means the request itself is wrong; not retryable.
			return nil, errors.Wrapf(ErrBlobCorrupt, "blob %s: unexpected status %d", blobID, res.StatusCode)
		}

		return res.Bytes(), nil
	}

	return nil, errors.Wrapf(lastErr, "blob %s: retries exhausted", blobID)
}
