package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/prerank-hq/preranker/models"
)

const cursorKey = "preranker:cursor"

// RedisStore implements Store on a single Redis instance. All operations
// are bounded by opTimeout on top of the caller's context.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStore connects to Redis and returns a Store
func NewRedisStore(addr, password string, opTimeout time.Duration) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	return &RedisStore{
		client:    client,
		opTimeout: opTimeout,
	}
}

// Ping verifies connectivity; used as a bootstrap check
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}

// Close releases the underlying connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// LoadCursor returns the persisted event cursor, or (nil, nil) at first start
func (s *RedisStore) LoadCursor(ctx context.Context) (*models.EventCursor, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, cursorKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading cursor")
	}

	var cursor models.EventCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, errors.Wrap(err, "decoding cursor")
	}

	return &cursor, nil
}

// StoreCursor durably persists the event cursor. The cursor never expires.
func (s *RedisStore) StoreCursor(ctx context.Context, cursor models.EventCursor) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return errors.Wrap(err, "encoding cursor")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Set(ctx, cursorKey, data, 0).Err(); err != nil {
		return errors.Wrap(err, "storing cursor")
	}
	return nil
}

// PutIntent stores the intent body under its TTL
func (s *RedisStore) PutIntent(ctx context.Context, intentID string, intent *models.Intent, ttl time.Duration) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "encoding intent")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Set(ctx, intentKey(intentID), data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "storing intent %s", intentID)
	}
	return nil
}

// GetIntent returns the stored intent body, or (nil, nil) when absent
func (s *RedisStore) GetIntent(ctx context.Context, intentID string) (*models.Intent, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, intentKey(intentID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading intent %s", intentID)
	}

	var intent models.Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, errors.Wrapf(err, "decoding intent %s", intentID)
	}

	return &intent, nil
}

// PutPassed stores a passed record and adds the solution to the passed set.
// The record key is written with SETNX so that a replayed event leaves the
// first record in place; stored=false signals the duplicate.
func (s *RedisStore) PutPassed(
	ctx context.Context,
	intentID, solutionID string,
	record *models.PassedSolution,
	ttl time.Duration,
) (bool, error) {
	return s.putRecord(ctx, intentID, solutionID, &models.SolutionRecord{Passed: record}, passedSetKey(intentID), ttl)
}

// PutFailed stores a failed record and adds the solution to the failed set
func (s *RedisStore) PutFailed(
	ctx context.Context,
	intentID, solutionID string,
	record *models.FailedSolution,
	ttl time.Duration,
) (bool, error) {
	return s.putRecord(ctx, intentID, solutionID, &models.SolutionRecord{Failed: record}, failedSetKey(intentID), ttl)
}

func (s *RedisStore) putRecord(
	ctx context.Context,
	intentID, solutionID string,
	record *models.SolutionRecord,
	setKey string,
	ttl time.Duration,
) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, errors.Wrap(err, "encoding solution record")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	stored, err := s.client.SetNX(ctx, recordKey(intentID, solutionID), data, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "storing record %s/%s", intentID, solutionID)
	}
	if !stored {
		return false, nil
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, setKey, solutionID)
	pipe.Expire(ctx, setKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, errors.Wrapf(err, "adding %s to result set", solutionID)
	}

	return true, nil
}

// ListPassed returns every passed record of the intent
func (s *RedisStore) ListPassed(ctx context.Context, intentID string) ([]*models.PassedSolution, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	solutionIDs, err := s.client.SMembers(ctx, passedSetKey(intentID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "listing passed set of %s", intentID)
	}
	if len(solutionIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(solutionIDs))
	for i, solutionID := range solutionIDs {
		keys[i] = recordKey(intentID, solutionID)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "loading passed records of %s", intentID)
	}

	records := make([]*models.PassedSolution, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Record expired between SMEMBERS and MGET; TTL reaping.
			continue
		}

		var record models.SolutionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, errors.Wrapf(err, "decoding passed record of %s", intentID)
		}
		if record.Passed != nil {
			records = append(records, record.Passed)
		}
	}

	return records, nil
}

// CountPassed returns the cardinality of the intent's passed set
func (s *RedisStore) CountPassed(ctx context.Context, intentID string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	count, err := s.client.SCard(ctx, passedSetKey(intentID)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "counting passed set of %s", intentID)
	}
	return count, nil
}

// CountFailed returns the cardinality of the intent's failed set
func (s *RedisStore) CountFailed(ctx context.Context, intentID string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	count, err := s.client.SCard(ctx, failedSetKey(intentID)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "counting failed set of %s", intentID)
	}
	return count, nil
}

// DeleteIntentTree removes the intent body, both result sets and every
// per-solution record
func (s *RedisStore) DeleteIntentTree(ctx context.Context, intentID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	keys := []string{intentKey(intentID), passedSetKey(intentID), failedSetKey(intentID)}

	for _, setKey := range []string{passedSetKey(intentID), failedSetKey(intentID)} {
		solutionIDs, err := s.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return errors.Wrapf(err, "listing %s for deletion", setKey)
		}
		for _, solutionID := range solutionIDs {
			keys = append(keys, recordKey(intentID, solutionID))
		}
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrapf(err, "deleting intent tree %s", intentID)
	}
	return nil
}

// PushRanking enqueues a flush payload for the ranking consumer
func (s *RedisStore) PushRanking(ctx context.Context, payload []byte) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.LPush(ctx, RankingQueueKey, payload).Err(); err != nil {
		return errors.Wrap(err, "pushing ranking payload")
	}
	return nil
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func intentKey(intentID string) string {
	return fmt.Sprintf("preranker:intent:%s", intentID)
}

func passedSetKey(intentID string) string {
	return fmt.Sprintf("preranker:intent:%s:passed", intentID)
}

func failedSetKey(intentID string) string {
	return fmt.Sprintf("preranker:intent:%s:failed", intentID)
}

func recordKey(intentID, solutionID string) string {
	return fmt.Sprintf("preranker:intent:%s:solution:%s", intentID, solutionID)
}
