package httpjson

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	web "github.com/prerank-hq/preranker/http"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/services"
)

type handler struct {
	*gin.Engine

	deps   Dependencies
	logger zerolog.Logger
}

type Config struct {
	Dependencies

	Addr           string
	AllowedOrigins string
	LogRequests    bool

	Logger zerolog.Logger
}

type Dependencies struct {
	Coordinator Coordinator
	Ingestor    Ingestor
	Intents     IntentReader
	Metrics     *services.Metrics
}

// Coordinator exposes the lifecycle operations the API surfaces
type Coordinator interface {
	ActiveIntentCount() int
	Lookup(intentID string) *services.IntentContext
	Flush(intentID string) error
}

// Ingestor exposes the ingestion progress the status endpoint reports
type Ingestor interface {
	CurrentCursor() *models.EventCursor
	LastPollTs() int64
}

// IntentReader reads stored intent bodies
type IntentReader interface {
	GetIntent(ctx context.Context, intentID string) (*models.Intent, error)
}

const (
	requestTimeout = 10 * time.Second
	rwTimeout      = 15 * time.Second
)

var ErrNotFound = errors.New("not found")

func New(cfg Config) *http.Server {
	return &http.Server{
		Addr:    cfg.Addr,
		Handler: newHandler(cfg, gin.New()),

		// Time to read the request headers/body
		ReadTimeout: rwTimeout,

		// Time to write the response
		WriteTimeout: rwTimeout,

		// Time to keep connections alive
		IdleTimeout: 60 * time.Second,

		// Max header bytes (1MB)
		MaxHeaderBytes: 1024 * 1024,
	}
}

func newHandler(cfg Config, router *gin.Engine) *handler {
	h := &handler{
		Engine: router,
		deps:   cfg.Dependencies,
		logger: cfg.Logger.With().Str(logging.FieldModule, "api").Logger(),
	}

	logLevel := zerolog.DebugLevel
	if cfg.LogRequests {
		logLevel = zerolog.InfoLevel
	}

	h.Use(
		gin.Recovery(),
		web.Zerolog(cfg.Logger, logLevel),
		web.Timeout(requestTimeout, cfg.Logger),
		web.CORS(cfg.AllowedOrigins),
	)

	h.setupAPIRoutes()
	h.setupObservabilityRoutes()

	return h
}

func (h *handler) setupAPIRoutes() {
	v1 := h.Group("/api/v1")

	v1.GET("/status", h.getStatus)

	h.setupIntentRoutes(v1)
}

func (h *handler) setupObservabilityRoutes() {
	h.GET("/health", h.getHealthCheck)

	if h.deps.Metrics != nil {
		h.GET("/metrics", gin.WrapH(h.deps.Metrics.Handler()))
	}
}

func (h *handler) getHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) getStatus(c *gin.Context) {
	status := gin.H{
		"active_intent_count": h.deps.Coordinator.ActiveIntentCount(),
	}

	if h.deps.Ingestor != nil {
		status["current_cursor"] = h.deps.Ingestor.CurrentCursor()
		status["last_poll_ts"] = h.deps.Ingestor.LastPollTs()
	}

	c.JSON(http.StatusOK, status)
}
