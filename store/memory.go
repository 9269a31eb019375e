package store

import (
	"context"
	"sync"
	"time"

	"github.com/prerank-hq/preranker/models"
)

// MemoryStore is an in-memory Store used in tests. TTLs are accepted and
// ignored; semantics otherwise match RedisStore, including first-write-wins
// on (intent_id, solution_id) records.
type MemoryStore struct {
	mu sync.Mutex

	cursor  *models.EventCursor
	intents map[string]*models.Intent
	records map[string]map[string]*models.SolutionRecord // intentID -> solutionID -> record
	passed  map[string]map[string]bool
	failed  map[string]map[string]bool

	Queue [][]byte

	// PushErr, when set, is returned by PushRanking; used to exercise
	// publisher retries.
	PushErr error
	// CursorErr, when set, is returned by StoreCursor.
	CursorErr error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*models.Intent),
		records: make(map[string]map[string]*models.SolutionRecord),
		passed:  make(map[string]map[string]bool),
		failed:  make(map[string]map[string]bool),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) LoadCursor(context.Context) (*models.EventCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor == nil {
		return nil, nil
	}
	cursor := *s.cursor
	return &cursor, nil
}

func (s *MemoryStore) StoreCursor(_ context.Context, cursor models.EventCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CursorErr != nil {
		return s.CursorErr
	}
	s.cursor = &cursor
	return nil
}

func (s *MemoryStore) PutIntent(_ context.Context, intentID string, intent *models.Intent, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.intents[intentID] = intent
	return nil
}

func (s *MemoryStore) GetIntent(_ context.Context, intentID string) (*models.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.intents[intentID], nil
}

func (s *MemoryStore) PutPassed(
	_ context.Context,
	intentID, solutionID string,
	record *models.PassedSolution,
	_ time.Duration,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.putRecord(intentID, solutionID, &models.SolutionRecord{Passed: record}, s.passed), nil
}

func (s *MemoryStore) PutFailed(
	_ context.Context,
	intentID, solutionID string,
	record *models.FailedSolution,
	_ time.Duration,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.putRecord(intentID, solutionID, &models.SolutionRecord{Failed: record}, s.failed), nil
}

func (s *MemoryStore) putRecord(
	intentID, solutionID string,
	record *models.SolutionRecord,
	set map[string]map[string]bool,
) bool {
	if s.records[intentID] == nil {
		s.records[intentID] = make(map[string]*models.SolutionRecord)
	}
	if _, exists := s.records[intentID][solutionID]; exists {
		return false
	}

	s.records[intentID][solutionID] = record

	if set[intentID] == nil {
		set[intentID] = make(map[string]bool)
	}
	set[intentID][solutionID] = true

	return true
}

func (s *MemoryStore) ListPassed(_ context.Context, intentID string) ([]*models.PassedSolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*models.PassedSolution
	for solutionID := range s.passed[intentID] {
		if record := s.records[intentID][solutionID]; record != nil && record.Passed != nil {
			records = append(records, record.Passed)
		}
	}
	return records, nil
}

func (s *MemoryStore) CountPassed(_ context.Context, intentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.passed[intentID])), nil
}

func (s *MemoryStore) CountFailed(_ context.Context, intentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.failed[intentID])), nil
}

func (s *MemoryStore) DeleteIntentTree(_ context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.intents, intentID)
	delete(s.records, intentID)
	delete(s.passed, intentID)
	delete(s.failed, intentID)
	return nil
}

func (s *MemoryStore) PushRanking(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PushErr != nil {
		return s.PushErr
	}

	s.Queue = append(s.Queue, payload)
	return nil
}

// QueueLen returns the number of enqueued ranking payloads
func (s *MemoryStore) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.Queue)
}

// HasRecord reports whether a record exists for (intentID, solutionID)
func (s *MemoryStore) HasRecord(intentID, solutionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[intentID][solutionID]
	return ok
}

// Record returns the stored record for (intentID, solutionID), or nil
func (s *MemoryStore) Record(intentID, solutionID string) *models.SolutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.records[intentID][solutionID]
}
