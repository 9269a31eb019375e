package store

import (
	"context"
	"time"

	"github.com/prerank-hq/preranker/models"
)

// RankingQueueKey is the sole handoff list to the ranking consumer.
const RankingQueueKey = "ranking:queue"

// CursorStore persists the ingestor's last-consumed event position.
// LoadCursor returns (nil, nil) when no cursor has ever been stored.
type CursorStore interface {
	LoadCursor(ctx context.Context) (*models.EventCursor, error)
	StoreCursor(ctx context.Context, cursor models.EventCursor) error
}

// IntentStore is the keyed, TTL-capable record store for per-intent state.
//
// (intent_id, solution_id) is the primary key of solution records: the
// first Put for a pair wins and subsequent Puts report stored=false, which
// makes event replay idempotent at that grain.
type IntentStore interface {
	PutIntent(ctx context.Context, intentID string, intent *models.Intent, ttl time.Duration) error
	GetIntent(ctx context.Context, intentID string) (*models.Intent, error)

	PutPassed(ctx context.Context, intentID, solutionID string, record *models.PassedSolution, ttl time.Duration) (stored bool, err error)
	PutFailed(ctx context.Context, intentID, solutionID string, record *models.FailedSolution, ttl time.Duration) (stored bool, err error)

	ListPassed(ctx context.Context, intentID string) ([]*models.PassedSolution, error)
	CountPassed(ctx context.Context, intentID string) (int64, error)
	CountFailed(ctx context.Context, intentID string) (int64, error)

	DeleteIntentTree(ctx context.Context, intentID string) error
}

// RankingQueue is the at-least-once handoff to the ranking consumer
type RankingQueue interface {
	PushRanking(ctx context.Context, payload []byte) error
}

// Store is the full keyed state store contract
type Store interface {
	CursorStore
	IntentStore
	RankingQueue

	Ping(ctx context.Context) error
	Close() error
}
