// Package simulator wraps the out-of-band dry-run engine.
package simulator

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/timeout"
)

// Client calls the simulation engine. A dry run is a single attempt: the
// pipeline treats simulator failures as terminal for the solution, and any
// internal retrying is the simulator's own business.
type Client struct {
	cli    *gentleman.Client
	logger zerolog.Logger
}

// New creates a simulator client against baseURL with a per-call deadline
func New(baseURL string, simTimeout time.Duration, logger zerolog.Logger) *Client {
	cli := gentleman.New()
	cli.BaseURL(baseURL)
	cli.Use(timeout.Request(simTimeout))

	return &Client{
		cli:    cli,
		logger: logger.With().Str(logging.FieldModule, "simulator").Logger(),
	}
}

type dryRunRequest struct {
	TransactionBytesB64 string `json:"transaction_bytes_b64"`
}

// DryRun evaluates a transaction without on-chain commit and returns its
// predicted effects. A failed execution is reported inside the result, not
// as an error.
func (c *Client) DryRun(ctx context.Context, transactionBytes []byte) (*models.DryRunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "dry run cancelled")
	}

	req := dryRunRequest{
		TransactionBytesB64: base64.StdEncoding.EncodeToString(transactionBytes),
	}

	res, err := c.cli.Post().AddPath("/dry_run").JSON(req).Do()
	if err != nil {
		return nil, errors.Wrap(err, "calling simulator")
	}
	if !res.Ok {
		return nil, errors.Errorf("simulator returned %d", res.StatusCode)
	}

	var result models.DryRunResult
	if err := res.JSON(&result); err != nil {
		return nil, errors.Wrap(err, "decoding dry run result")
	}

	return &result, nil
}
