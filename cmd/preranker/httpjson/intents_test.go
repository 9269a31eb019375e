package httpjson

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/services"
)

func TestGetIntent(t *testing.T) {
	t.Run("returns stored intent", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)

		intent := &models.Intent{
			IntentID:    "intent-1",
			UserAddress: "0xuser",
			WindowEndMs: 1_700_000_000_000,
		}

		ts.Intents.On("GetIntent", mock.Anything, "intent-1").Return(intent, nil)
		ts.Coordinator.On("Lookup", "intent-1").Return(nil)

		// ACT
		resp, err := ts.Client.Get().AddPath("/api/v1/intents/intent-1").Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "intent-1", gjson.GetBytes(resp.Bytes(), "intent.intent_id").String())
		assert.False(t, gjson.GetBytes(resp.Bytes(), "state").Exists())
	})

	t.Run("includes lifecycle view for an active intent", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)

		intent := &models.Intent{IntentID: "intent-1"}
		ictx := &services.IntentContext{
			Intent:      intent,
			IntentID:    "intent-1",
			WindowEndMs: 1_700_000_000_000,
		}

		ts.Intents.On("GetIntent", mock.Anything, "intent-1").Return(intent, nil)
		ts.Coordinator.On("Lookup", "intent-1").Return(ictx)

		// ACT
		resp, err := ts.Client.Get().AddPath("/api/v1/intents/intent-1").Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "accepting", gjson.GetBytes(resp.Bytes(), "state").String())
		assert.Equal(t, int64(1_700_000_000_000), gjson.GetBytes(resp.Bytes(), "window_end_ms").Int())
	})

	t.Run("unknown intent is a 404", func(t *testing.T) {
		ts := newTestSuite(t)
		ts.Intents.On("GetIntent", mock.Anything, "missing").Return(nil, nil)

		resp, err := ts.Client.Get().AddPath("/api/v1/intents/missing").Do()

		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestFlushIntent(t *testing.T) {
	t.Run("flushes an active intent", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		ts.Coordinator.On("Flush", "intent-1").Return(nil)

		// ACT
		resp, err := ts.Client.Post().AddPath("/api/v1/intents/intent-1/flush").Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assertResponseContainsJSON(t, resp, "status", "flushed")
		ts.Coordinator.AssertCalled(t, "Flush", "intent-1")
	})

	t.Run("flushing an inactive intent is a 404", func(t *testing.T) {
		ts := newTestSuite(t)
		ts.Coordinator.On("Flush", "intent-1").Return(services.ErrIntentNotActive)

		resp, err := ts.Client.Post().AddPath("/api/v1/intents/intent-1/flush").Do()

		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
