package simulator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(server.URL, time.Second, logging.NewTesting(t))
}

func TestDryRun(t *testing.T) {
	ctx := context.Background()

	t.Run("posts transaction bytes and decodes the result", func(t *testing.T) {
		// ARRANGE
		txBytes := []byte("tx-payload")

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/dry_run", r.URL.Path)

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, base64.StdEncoding.EncodeToString(txBytes), req["transaction_bytes_b64"])

			_, _ = w.Write([]byte(`{
				"status": "ok",
				"gas": {"computation": "500", "storage": "100"},
				"balance_changes": [{"owner": "0xuser", "coin_type": "0x2::sui::SUI", "amount": "42"}]
			}`))
		})

		// ACT
		result, err := client.DryRun(ctx, txBytes)

		// ASSERT
		require.NoError(t, err)
		assert.True(t, result.Succeeded())
		assert.Equal(t, int64(600), result.Gas.Total().Int64())
		require.Len(t, result.BalanceChanges, 1)
	})

	t.Run("execution failure is a result, not an error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status": "fail", "error_msg": "insufficient balance"}`))
		})

		result, err := client.DryRun(ctx, []byte("tx"))

		require.NoError(t, err)
		assert.False(t, result.Succeeded())
		assert.Equal(t, models.DryRunStatusFail, result.Status)
		assert.Equal(t, "insufficient balance", result.ErrorMsg)
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		result, err := client.DryRun(ctx, []byte("tx"))

		require.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("cancelled context short-circuits", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status": "ok"}`))
		})

		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := client.DryRun(cancelCtx, []byte("tx"))

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
