package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cosentus/chat-widget/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama answers chats with a model served by an Ollama server. It keeps no conversation state of
// its own: every call sends the whole history.
type Ollama struct {
	model        string
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Respond sends the conversation history to the model in a single non-streaming request and
// returns the complete reply.
func (o Ollama) Respond(ctx context.Context, _ string, history []models.Message) (models.Reply, error) {
	msgs := make([]api.Message, 0, len(history)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, api.Message{
			Role:    "system",
			Content: o.systemPrompt,
		})
	}
	for _, msg := range history {
		msgs = append(msgs, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	f := false
	req := api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &f,
	}

	var reply string
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		reply += res.Message.Content
		return nil
	}); err != nil {
		return models.Reply{}, fmt.Errorf("error sending request: %w", err)
	}

	o.logger.Debug("Reply received", slog.Int("length", len(reply)))

	return models.Reply{Text: reply}, nil
}
