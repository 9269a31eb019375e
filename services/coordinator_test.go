package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/store"
)

type coordinatorSuite struct {
	Store       *store.MemoryStore
	Blob        *fakeBlob
	Simulator   *fakeSimulator
	Coordinator *Coordinator
}

func newCoordinatorSuite(t *testing.T, flushOnEmptyPassed bool) *coordinatorSuite {
	memStore := store.NewMemoryStore()
	blobFake := newFakeBlob()
	simFake := &fakeSimulator{result: passingDryRun()}
	logger := testLogger(t)

	publisher := &Publisher{
		queue:          memStore,
		enqueueTimeout: time.Second,
		maxAttempts:    2,
		baseDelay:      time.Millisecond,
		logger:         logger,
	}

	coordinator := NewCoordinator(CoordinatorConfig{
		Store:     memStore,
		Blob:      blobFake,
		Pipeline:  NewPipeline(blobFake, simFake, memStore, time.Hour, logger, nil),
		Publisher: publisher,

		RecordTTL:          time.Hour,
		FlushOnEmptyPassed: flushOnEmptyPassed,
		Concurrency:        4,

		Logger: logger,
	})

	t.Cleanup(func() {
		_ = coordinator.Shutdown(5 * time.Second)
	})

	return &coordinatorSuite{
		Store:       memStore,
		Blob:        blobFake,
		Simulator:   simFake,
		Coordinator: coordinator,
	}
}

func intentEvent(intentID, blobID string, windowEndMs int64) *models.Event {
	return &models.Event{
		Kind: models.KindIntentSubmitted,
		Intent: &models.IntentSubmittedEvent{
			IntentID:    intentID,
			BlobID:      blobID,
			UserAddress: testUser,
			WindowEndMs: windowEndMs,
		},
	}
}

func solutionEventMsg(solutionID, blobID string) *models.Event {
	return &models.Event{
		Kind:     models.KindSolutionSubmitted,
		Solution: solutionEvent(solutionID, blobID),
	}
}

func futureWindowEnd() int64 {
	return time.Now().Add(time.Hour).UnixMilli()
}

func TestCoordinator(t *testing.T) {
	ctx := context.Background()

	t.Run("intent open tracks context and persists body", func(t *testing.T) {
		// ARRANGE
		ts := newCoordinatorSuite(t, false)
		intent := newTestIntent()
		intent.WindowEndMs = futureWindowEnd()
		ts.Blob.intents["blob-i1"] = intent

		// ACT
		err := ts.Coordinator.HandleEvent(ctx, intentEvent("intent-1", "blob-i1", intent.WindowEndMs))

		// ASSERT
		require.NoError(t, err)
		assert.Equal(t, 1, ts.Coordinator.ActiveIntentCount())

		stored, err := ts.Store.GetIntent(ctx, "intent-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "intent-1", stored.IntentID)
	})

	t.Run("duplicate intent event is dropped", func(t *testing.T) {
		ts := newCoordinatorSuite(t, false)
		intent := newTestIntent()
		intent.WindowEndMs = futureWindowEnd()
		ts.Blob.intents["blob-i1"] = intent

		event := intentEvent("intent-1", "blob-i1", intent.WindowEndMs)
		require.NoError(t, ts.Coordinator.HandleEvent(ctx, event))
		require.NoError(t, ts.Coordinator.HandleEvent(ctx, event))

		assert.Equal(t, 1, ts.Coordinator.ActiveIntentCount())
	})

	t.Run("unfetchable intent blob drops the intent", func(t *testing.T) {
		ts := newCoordinatorSuite(t, false)

		err := ts.Coordinator.HandleEvent(ctx, intentEvent("intent-1", "blob-missing", futureWindowEnd()))

		require.NoError(t, err)
		assert.Zero(t, ts.Coordinator.ActiveIntentCount())
	})

	t.Run("solution for unknown intent is dropped", func(t *testing.T) {
		ts := newCoordinatorSuite(t, false)

		err := ts.Coordinator.HandleEvent(ctx, solutionEventMsg("s1", "blob-s1"))

		require.NoError(t, err)
		assert.False(t, ts.Store.HasRecord("intent-1", "s1"))
	})

	t.Run("flush publishes passed solutions exactly once", func(t *testing.T) {
		// ARRANGE
		ts := newCoordinatorSuite(t, false)
		windowEnd := futureWindowEnd()
		intent := newTestIntent()
		intent.WindowEndMs = windowEnd
		ts.Blob.intents["blob-i1"] = intent
		ts.Blob.solutions["blob-s1"] = newTestSolution("s1", windowEnd-1000)
		ts.Blob.solutions["blob-s2"] = newTestSolution("s2", windowEnd+1) // past deadline

		require.NoError(t, ts.Coordinator.HandleEvent(ctx, intentEvent("intent-1", "blob-i1", windowEnd)))
		require.NoError(t, ts.Coordinator.HandleEvent(ctx, solutionEventMsg("s1", "blob-s1")))
		require.NoError(t, ts.Coordinator.HandleEvent(ctx, solutionEventMsg("s2", "blob-s2")))
		require.NoError(t, ts.Coordinator.WaitIdle(ctx))

		// ACT
		require.NoError(t, ts.Coordinator.Flush("intent-1"))

		// ASSERT
		require.Equal(t, 1, ts.Store.QueueLen())
		assert.Zero(t, ts.Coordinator.ActiveIntentCount())

		payload := ts.Store.Queue[0]
		assert.Equal(t, "intent-1", gjson.GetBytes(payload, "intent_id").String())
		assert.Equal(t, int64(1), gjson.GetBytes(payload, "passed_solutions.#").Int())
		assert.Equal(t, "s1", gjson.GetBytes(payload, "passed_solutions.0.solution_id").String())
		assert.Equal(t, int64(2), gjson.GetBytes(payload, "total_solutions_submitted").Int())

		// A second trigger finds no active intent.
		err := ts.Coordinator.Flush("intent-1")
		assert.ErrorIs(t, err, ErrIntentNotActive)
		assert.Equal(t, 1, ts.Store.QueueLen())
	})

	t.Run("empty flush publishes nothing and reaps state", func(t *testing.T) {
		ts := newCoordinatorSuite(t, false)
		intent := newTestIntent()
		intent.WindowEndMs = futureWindowEnd()
		ts.Blob.intents["blob-i1"] = intent

		require.NoError(t, ts.Coordinator.HandleEvent(ctx, intentEvent("intent-1", "blob-i1", intent.WindowEndMs)))
		require.NoError(t, ts.Coordinator.Flush("intent-1"))

		assert.Zero(t, ts.Store.QueueLen())
		assert.Zero(t, ts.Coordinator.ActiveIntentCount())

		stored, err := ts.Store.GetIntent(ctx, "intent-1")
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("empty flush publishes when configured to", func(t *testing.T) {
		ts := newCoordinatorSuite(t, true)
		intent := newTestIntent()
		intent.WindowEndMs = futureWindowEnd()
		ts.Blob.intents["blob-i1"] = intent

		require.NoError(t, ts.Coordinator.HandleEvent(ctx, intentEvent("intent-1", "blob-i1", intent.WindowEndMs)))
		require.NoError(t, ts.Coordinator.Flush("intent-1"))

		require.Equal(t, 1, ts.Store.QueueLen())
		payload := ts.Store.Queue[0]
		assert.Equal(t, int64(0), gjson.GetBytes(payload, "passed_solutions.#").Int())
	})

	t.Run("late solution after flush is dropped", func(t *testing.T) {
		ts := newCoordinatorSuite(t, false)
		intent := newTestIntent()
		intent.WindowEndMs = futureWindowEnd()
		ts.Blob.intents["blob-i1"] = intent
		ts.Blob.solutions["blob-s1"] = newTestSolution("s1", testWindowEnd-1000)

		require.NoError(t, ts.Coordinator.HandleEvent(ctx, intentEvent("intent-1", "blob-i1", intent.WindowEndMs)))
		require.NoError(t, ts.Coordinator.Flush("intent-1"))

		require.NoError(t, ts.Coordinator.HandleEvent(ctx, solutionEventMsg("s1", "blob-s1")))
		require.NoError(t, ts.Coordinator.WaitIdle(ctx))

		assert.False(t, ts.Store.HasRecord("intent-1", "s1"))
	})

	t.Run("already expired window is flushed on arrival", func(t *testing.T) {
		// ARRANGE
		ts := newCoordinatorSuite(t, true)
		ts.Coordinator.Start(ctx)

		// Window closed before the event was ingested; the timer fires
		// immediately and the flush must still find the intent.
		windowEnd := time.Now().Add(-time.Second).UnixMilli()
		intent := newTestIntent()
		intent.WindowEndMs = windowEnd
		ts.Blob.intents["blob-i1"] = intent

		// ACT
		require.NoError(t, ts.Coordinator.HandleEvent(ctx, intentEvent("intent-1", "blob-i1", windowEnd)))

		// ASSERT
		require.Eventually(t, func() bool {
			return ts.Coordinator.ActiveIntentCount() == 0
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, ts.Store.QueueLen())
	})

	t.Run("window timer triggers the flush", func(t *testing.T) {
		// ARRANGE
		ts := newCoordinatorSuite(t, false)
		ts.Coordinator.Start(ctx)

		windowEnd := time.Now().Add(150 * time.Millisecond).UnixMilli()
		intent := newTestIntent()
		intent.WindowEndMs = windowEnd
		ts.Blob.intents["blob-i1"] = intent
		ts.Blob.solutions["blob-s1"] = newTestSolution("s1", testWindowEnd-1000)

		// ACT
		require.NoError(t, ts.Coordinator.HandleEvent(ctx, intentEvent("intent-1", "blob-i1", windowEnd)))
		require.NoError(t, ts.Coordinator.HandleEvent(ctx, solutionEventMsg("s1", "blob-s1")))

		// ASSERT
		require.Eventually(t, func() bool {
			return ts.Store.QueueLen() == 1
		}, 5*time.Second, 10*time.Millisecond)
		assert.Zero(t, ts.Coordinator.ActiveIntentCount())
	})
}
