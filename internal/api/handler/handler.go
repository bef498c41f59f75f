package handler

import (
	"log/slog"

	"github.com/txsuite/pipeline-be/internal/callback"
	"github.com/txsuite/pipeline-be/internal/storage"
	"github.com/txsuite/pipeline-be/internal/webhook"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Storage      *storage.Storage
	Orchestrator *webhook.Orchestrator
	Merger       *callback.Merger
}
