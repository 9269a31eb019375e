package httpjson

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/services"
	"gopkg.in/h2non/gentleman.v2"
)

type testSuite struct {
	t *testing.T

	Ctx         context.Context
	Client      *gentleman.Client
	Coordinator *MockCoordinator
	Intents     *MockIntentReader

	Logger zerolog.Logger
}

func newTestSuite(t *testing.T) *testSuite {
	gin.SetMode(gin.TestMode)

	var (
		ctx             = context.Background()
		logger          = logging.NewTesting(t)
		router          = gin.New()
		coordinatorMock = &MockCoordinator{}
		intentsMock     = &MockIntentReader{}
	)

	cfg := Config{
		Logger:      logger,
		LogRequests: true,
		Dependencies: Dependencies{
			Coordinator: coordinatorMock,
			Intents:     intentsMock,
			Metrics:     nil,
		},
	}

	// Create handler
	h := newHandler(cfg, router)
	// Run test server
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	client := gentleman.New()
	client.BaseURL(server.URL)

	return &testSuite{
		t:           t,
		Ctx:         ctx,
		Client:      client,
		Logger:      logger,
		Coordinator: coordinatorMock,
		Intents:     intentsMock,
	}
}

// MockCoordinator is a mock implementation of the Coordinator interface
type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) ActiveIntentCount() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockCoordinator) Lookup(intentID string) *services.IntentContext {
	args := m.Called(intentID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*services.IntentContext)
}

func (m *MockCoordinator) Flush(intentID string) error {
	args := m.Called(intentID)
	return args.Error(0)
}

// MockIntentReader is a mock implementation of the IntentReader interface
type MockIntentReader struct {
	mock.Mock
}

func (m *MockIntentReader) GetIntent(ctx context.Context, intentID string) (*models.Intent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Intent), args.Error(1)
}

func TestHandler(t *testing.T) {
	t.Run("health check", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)

		// ACT
		resp, err := ts.Client.Get().AddPath("/health").Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assertResponseContainsJSON(t, resp, "status", "ok")
	})

	t.Run("status reports active intents", func(t *testing.T) {
		// ARRANGE
		ts := newTestSuite(t)
		ts.Coordinator.On("ActiveIntentCount").Return(3)

		// ACT
		resp, err := ts.Client.Get().AddPath("/api/v1/status").Do()

		// ASSERT
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int64(3), gjson.GetBytes(resp.Bytes(), "active_intent_count").Int())
	})
}

func assertResponseContainsJSON(t *testing.T, res *gentleman.Response, path string, contains string) {
	r := gjson.GetBytes(res.Bytes(), path)

	assert.Contains(t, r.String(), contains, res.String())
}
