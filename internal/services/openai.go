package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cosentus/chat-widget/internal/models"
	"github.com/sethvargo/go-retry"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAIAssistant answers chats with an OpenAI assistant. An assistants thread is the vendor
// thread of a chat; every user message is added to it and answered by a run that is polled until it
// finishes.
type OpenAIAssistant struct {
	assistantID  string
	pollInterval time.Duration
	pollTimeout  time.Duration

	client *goopenai.Client

	logger *slog.Logger
}

var (
	// ErrRunFailed is returned when an assistant run ends in any state but completed.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrRunTimeout is returned when an assistant run is still going after the poll timeout.
	ErrRunTimeout = errors.New("assistant run timed out")

	errRunPending = errors.New("assistant run pending")
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultPollTimeout  = 60 * time.Second
)

// NewOpenAIAssistant creates a new OpenAIAssistant for the given assistant. An empty baseURL
// selects the public API; zero poll settings select a 500ms interval and a 60s timeout.
func NewOpenAIAssistant(
	apiKey, assistantID, baseURL string,
	pollInterval, pollTimeout time.Duration,
	logger *slog.Logger,
) OpenAIAssistant {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	return OpenAIAssistant{
		assistantID:  assistantID,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// Respond adds the latest user message of history to the thread identified by threadID, creating
// the thread first when threadID is empty, runs the assistant on it and returns the text the run
// produced.
func (o OpenAIAssistant) Respond(ctx context.Context, threadID string, history []models.Message) (models.Reply, error) {
	content, err := lastUserMessage(history)
	if err != nil {
		return models.Reply{}, err
	}

	if threadID == "" {
		thread, err := o.client.CreateThread(ctx, goopenai.ThreadRequest{})
		if err != nil {
			return models.Reply{}, fmt.Errorf("failed to create thread: %w", err)
		}
		threadID = thread.ID
		o.logger.Info("Thread created", slog.String("threadID", threadID))
	}

	if _, err := o.client.CreateMessage(ctx, threadID, goopenai.MessageRequest{
		Role:    "user",
		Content: content,
	}); err != nil {
		return models.Reply{}, fmt.Errorf("failed to add message: %w", err)
	}

	run, err := o.client.CreateRun(ctx, threadID, goopenai.RunRequest{
		AssistantID: o.assistantID,
	})
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to create run: %w", err)
	}

	if err := o.waitRun(ctx, threadID, run.ID); err != nil {
		return models.Reply{}, err
	}

	limit := 100
	order := "asc"
	runID := run.ID
	list, err := o.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to list messages: %w", err)
	}

	var parts []string
	for _, msg := range list.Messages {
		if string(msg.Role) != string(models.RoleAssistant) {
			continue
		}
		for _, c := range msg.Content {
			if c.Text != nil && c.Text.Value != "" {
				parts = append(parts, c.Text.Value)
			}
		}
	}
	if len(parts) == 0 {
		return models.Reply{}, ErrNoAgentResponse
	}

	return models.Reply{
		Text:     strings.Join(parts, "\n\n"),
		ThreadID: threadID,
	}, nil
}

// waitRun polls the run until it reaches a terminal status. Errors from the API while polling are
// retried like a pending run.
func (o OpenAIAssistant) waitRun(ctx context.Context, threadID, runID string) error {
	backoff := retry.WithMaxDuration(o.pollTimeout, retry.NewConstant(o.pollInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		run, err := o.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			o.logger.Warn("Failed to retrieve run",
				slog.String("runID", runID),
				slog.String(errLoggerKey, err.Error()))
			return retry.RetryableError(err)
		}

		switch run.Status {
		case goopenai.RunStatusCompleted:
			return nil
		case goopenai.RunStatusQueued, goopenai.RunStatusInProgress, goopenai.RunStatusCancelling:
			return retry.RetryableError(errRunPending)
		default:
			if run.LastError != nil {
				return fmt.Errorf("%w: %s: %s", ErrRunFailed, run.Status, run.LastError.Message)
			}
			return fmt.Errorf("%w: %s", ErrRunFailed, run.Status)
		}
	})
	if errors.Is(err, errRunPending) {
		return fmt.Errorf("%w after %v", ErrRunTimeout, o.pollTimeout)
	}
	return err
}
