package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/txsuite/pipeline-be/internal/api/dto"
	"github.com/txsuite/pipeline-be/internal/callback"
)

// CallbackHandler receives completion callbacks from converters and linters
type CallbackHandler struct {
	logger *slog.Logger
	merger *callback.Merger
}

// NewCallbackHandler creates a new CallbackHandler instance
func NewCallbackHandler(deps *Dependencies) *CallbackHandler {
	return &CallbackHandler{
		logger: deps.Logger,
		merger: deps.Merger,
	}
}

// HandleConverterCallback handles POST /client/callback/converter
// Records the converter's result and completion marker for its part and
// re-checks the whole commit. Replies 200 when this callback completed the
// commit, 202 while other parts are still pending.
func (h *CallbackHandler) HandleConverterCallback(c *gin.Context) {
	var req dto.ConverterCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid converter callback payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	h.logger.Info("Converter callback received",
		slog.String("identifier", req.Identifier),
		slog.Bool("success", req.Success),
	)

	status, done, err := h.merger.OnConverterCallback(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to process converter callback",
			slog.String("identifier", req.Identifier),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if done {
		c.JSON(http.StatusOK, status)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

// HandleLinterCallback handles POST /client/callback/linter
// Records the linter's result for its part and re-checks the whole commit.
// Replies 200 when this callback completed the commit, 202 while other
// parts are still pending.
func (h *CallbackHandler) HandleLinterCallback(c *gin.Context) {
	var req dto.LinterCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid linter callback payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	h.logger.Info("Linter callback received",
		slog.String("identifier", req.Identifier),
		slog.Bool("success", req.Success),
		slog.Int("warnings", len(req.Warnings)),
	)

	status, done, err := h.merger.OnLinterCallback(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to process linter callback",
			slog.String("identifier", req.Identifier),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if done {
		c.JSON(http.StatusOK, status)
		return
	}
	c.JSON(http.StatusAccepted, status)
}
