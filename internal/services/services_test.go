package services_test

import (
	"io"
	"log/slog"

	"github.com/cosentus/chat-widget/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var history = []models.Message{
	{Role: models.RoleUser, Content: "Hi"},
	{Role: models.RoleAssistant, Content: "Hello! How can I help?"},
	{Role: models.RoleUser, Content: "What do you do?"},
}
