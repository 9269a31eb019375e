// Package chain queries the blockchain event source over JSON-RPC.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
)

const queryEventsMethod = "suix_queryEvents"

// Client is a thin JSON-RPC client over the chain's event query API
type Client struct {
	rpc    *rpc.Client
	logger zerolog.Logger
}

// Dial connects to the chain RPC endpoint
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Client, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing chain rpc %s", url)
	}

	return &Client{
		rpc:    client,
		logger: logger.With().Str(logging.FieldModule, "chain").Logger(),
	}, nil
}

// Close releases the RPC connection
func (c *Client) Close() {
	c.rpc.Close()
}

type eventTypeFilter struct {
	MoveEventType string `json:"MoveEventType"`
}

type eventPage struct {
	Data        []models.RawEvent   `json:"data"`
	NextCursor  *models.EventCursor `json:"nextCursor"`
	HasNextPage bool                `json:"hasNextPage"`
}

// QueryEvents returns up to limit events of eventType in ascending order,
// starting strictly after cursor. A nil cursor starts from the beginning
// of the stream.
func (c *Client) QueryEvents(
	ctx context.Context,
	eventType string,
	cursor *models.EventCursor,
	limit int,
) ([]models.RawEvent, error) {
	var page eventPage

	err := c.rpc.CallContext(ctx, &page, queryEventsMethod,
		eventTypeFilter{MoveEventType: eventType},
		cursor,
		limit,
		false, // ascending
	)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s events", eventType)
	}

	return page.Data, nil
}
