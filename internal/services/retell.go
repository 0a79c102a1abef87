package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cosentus/chat-widget/internal/models"
)

// Retell answers chats with a Retell AI chat agent. A Retell chat is the vendor thread: it is
// created on the first message and ended explicitly when the widget closes.
type Retell struct {
	apiKey   string
	agentID  string
	endpoint string

	client *http.Client

	logger *slog.Logger
}

type retellCreateChatRequest struct {
	AgentID string `json:"agent_id"`
}

type retellCreateChatResponse struct {
	ChatID     string `json:"chat_id"`
	ChatStatus string `json:"chat_status"`
}

type retellCompletionRequest struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

type retellCompletionResponse struct {
	Messages []retellMessage `json:"messages"`
}

type retellMessage struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

const retellAPIEndpoint = "https://api.retellai.com"

// ErrNoAgentResponse is returned when a Retell completion carries no agent message.
var ErrNoAgentResponse = errors.New("no response from agent")

// NewRetell creates a new Retell instance for the given chat agent. An empty endpoint selects the
// public API.
func NewRetell(apiKey, agentID, endpoint string, logger *slog.Logger) Retell {
	if endpoint == "" {
		endpoint = retellAPIEndpoint
	}
	return Retell{
		apiKey:   apiKey,
		agentID:  agentID,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{},
		logger:   logger.With(slog.String("module", "retell")),
	}
}

// Respond sends the latest user message of history to the Retell chat identified by threadID,
// creating the chat first when threadID is empty, and returns the agent's reply.
func (r Retell) Respond(ctx context.Context, threadID string, history []models.Message) (models.Reply, error) {
	content, err := lastUserMessage(history)
	if err != nil {
		return models.Reply{}, err
	}

	if threadID == "" {
		var chat retellCreateChatResponse
		if err := r.do(ctx, http.MethodPost, "/create-chat", retellCreateChatRequest{AgentID: r.agentID}, &chat); err != nil {
			return models.Reply{}, fmt.Errorf("failed to create chat: %w", err)
		}
		threadID = chat.ChatID
		r.logger.Info("Chat created", slog.String("chatID", threadID))
	}

	var completion retellCompletionResponse
	if err := r.do(ctx, http.MethodPost, "/create-chat-completion", retellCompletionRequest{
		ChatID:  threadID,
		Content: content,
	}, &completion); err != nil {
		return models.Reply{}, fmt.Errorf("failed to send message: %w", err)
	}

	if len(completion.Messages) == 0 || completion.Messages[0].Content == "" {
		return models.Reply{}, ErrNoAgentResponse
	}

	return models.Reply{
		Text:     completion.Messages[0].Content,
		ThreadID: threadID,
	}, nil
}

// EndThread ends the Retell chat identified by threadID.
func (r Retell) EndThread(ctx context.Context, threadID string) error {
	if err := r.do(ctx, http.MethodPost, "/end-chat/"+url.PathEscape(threadID), nil, nil); err != nil {
		return fmt.Errorf("failed to end chat: %w", err)
	}
	return nil
}

func (r Retell) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(resp.Body)
		r.logger.Error("Unexpected response",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(errBody)))
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func lastUserMessage(history []models.Message) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content, nil
		}
	}
	return "", errors.New("history has no user message")
}
