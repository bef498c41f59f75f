package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/txsuite/pipeline-be/internal/api/dto"
	"github.com/txsuite/pipeline-be/internal/webhook"
)

// WebhookHandler handles inbound push notifications
type WebhookHandler struct {
	logger       *slog.Logger
	orchestrator *webhook.Orchestrator
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
	}
}

// HandlePush handles POST /client/webhook
// Accepts a push notification from the source repository host, creates
// conversion jobs and dispatches them. The response carries the initial
// build status for the commit.
func (h *WebhookHandler) HandlePush(c *gin.Context) {
	eventType := c.GetHeader("X-Gogs-Event")
	if eventType == "" {
		eventType = c.GetHeader("X-GitHub-Event")
	}

	h.logger.Info("Webhook received",
		slog.String("event_type", eventType),
		slog.String("ip", c.ClientIP()),
	)

	var event dto.PushEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.logger.Error("Invalid webhook payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	status, err := h.orchestrator.Handle(c.Request.Context(), eventType, &event)
	if err != nil {
		if errors.Is(err, webhook.ErrValidation) {
			h.logger.Error("Webhook rejected", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		h.logger.Error("Failed to process push", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process push",
		})
		return
	}

	c.JSON(http.StatusOK, status)
}
