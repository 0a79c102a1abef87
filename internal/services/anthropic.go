package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cosentus/chat-widget/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic answers chats with Claude models through the Anthropic messages API. The response is
// read as a server-sent event stream and collected into the complete reply, since the widget
// reveals replies on its own pace.
type Anthropic struct {
	apiKey       string
	model        string
	systemPrompt string
	maxTokens    int
	endpoint     string

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, model name, system
// prompt and maximum token limit. An empty endpoint selects the public API.
func NewAnthropic(apiKey, model, systemPrompt string, maxTokens int, endpoint string, logger *slog.Logger) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "anthropic")),
	}
}

// Respond sends the conversation history to the messages API and returns the concatenation of all
// streamed text deltas.
func (a Anthropic) Respond(ctx context.Context, _ string, history []models.Message) (models.Reply, error) {
	msgs := make([]anthropicMessage, len(history))
	for i, msg := range history {
		msgs[i] = anthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	reqBody := anthropicChatRequest{
		Model:     a.model,
		Messages:  msgs,
		Stream:    true,
		System:    a.systemPrompt,
		MaxTokens: a.maxTokens,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return models.Reply{}, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
	if err != nil {
		return models.Reply{}, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return models.Reply{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var e anthropicError
		if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
			return models.Reply{}, fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message)
		}
		return models.Reply{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, body)
	}

	var sb strings.Builder
	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			return models.Reply{}, fmt.Errorf("error reading response: %w", err)
		}
		switch ev.Type {
		case "error":
			var e anthropicError
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				return models.Reply{}, fmt.Errorf("error unmarshaling error: %w", err)
			}
			return models.Reply{}, fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message)
		case "message_stop":
			return models.Reply{Text: sb.String()}, nil
		case "content_block_delta":
			var res anthropicStreamResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				return models.Reply{}, fmt.Errorf("error unmarshaling response: %w", err)
			}
			sb.WriteString(res.Delta.Text)
		default:
			a.logger.Debug("Skipping event", slog.String("type", ev.Type))
		}
	}

	return models.Reply{Text: sb.String()}, nil
}
