package httpjson

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	web "github.com/prerank-hq/preranker/http"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/models"
	"github.com/prerank-hq/preranker/services"
)

func (h *handler) setupIntentRoutes(rg *gin.RouterGroup) {
	rg.GET("/intents/:id", h.getIntent)
	rg.POST("/intents/:id/flush", h.postFlushIntent)
}

// getIntent returns the stored intent body with its live lifecycle view
// when the intent is still active
func (h *handler) getIntent(c *gin.Context) {
	intentID := c.Param("id")
	if intentID == "" {
		web.ErrBadRequest(c, errors.New("intent id required"))
		return
	}

	intent, err := h.deps.Intents.GetIntent(c.Request.Context(), intentID)
	if err != nil {
		h.logger.Error().Err(err).Str(logging.FieldIntent, intentID).Msg("Failed to read intent")
		web.ErrInternalServerError(c, err)
		return
	}
	if intent == nil {
		web.ErrNotFound(c, ErrNotFound)
		return
	}

	response := gin.H{"intent": intent}

	if ictx := h.deps.Coordinator.Lookup(intentID); ictx != nil {
		response["state"] = stateName(ictx.State())
		response["window_end_ms"] = ictx.WindowEndMs
		response["passed_count"] = ictx.PassedCount()
		response["failed_count"] = ictx.FailedCount()
	}

	c.JSON(http.StatusOK, response)
}

// postFlushIntent closes an intent's window ahead of its timer. Flushing
// an unknown or already-closed intent is a 404; the close itself is
// at-most-once regardless of how it is triggered.
func (h *handler) postFlushIntent(c *gin.Context) {
	intentID := c.Param("id")
	if intentID == "" {
		web.ErrBadRequest(c, errors.New("intent id required"))
		return
	}

	if err := h.deps.Coordinator.Flush(intentID); err != nil {
		if errors.Is(err, services.ErrIntentNotActive) {
			web.ErrNotFound(c, err)
			return
		}

		h.logger.Error().Err(err).Str(logging.FieldIntent, intentID).Msg("Manual flush failed")
		web.ErrInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "flushed", "intent_id": intentID})
}

func stateName(state int32) string {
	switch state {
	case models.IntentStateAccepting:
		return "accepting"
	case models.IntentStateFlushing:
		return "flushing"
	case models.IntentStateTerminated:
		return "terminated"
	}
	return "unknown"
}
