package handlers

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"time"

	chatwidget "github.com/cosentus/chat-widget"
	"github.com/cosentus/chat-widget/internal/models"
	"github.com/cosentus/chat-widget/internal/typewriter"
	"github.com/tmaxmax/go-sse"
)

// Responder answers the latest user message of a chat with a complete reply. threadID is the
// vendor conversation stored with the chat, empty for the first message; the returned Reply
// carries the thread id to store for the next one.
type Responder interface {
	Respond(ctx context.Context, threadID string, history []models.Message) (models.Reply, error)
}

// ThreadEnder is implemented by responders whose vendor conversations must be closed explicitly.
type ThreadEnder interface {
	EndThread(ctx context.Context, threadID string) error
}

// Store defines the interface for managing chat and message persistence.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	Chat(ctx context.Context, chatID string) (models.Chat, error)
	AddChat(ctx context.Context, chat models.Chat) (string, error)
	UpdateChat(ctx context.Context, chat models.Chat) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, chatID string, message models.Message) error
}

// MainOptions configures the reveal pace of assistant replies and logging.
type MainOptions struct {
	Typewriter typewriter.Options
	// Frame is the frame interval of every view's scheduling loop.
	Frame time.Duration
	// IdleTimeout is how long a chat view without SSE subscribers is kept. Defaults to
	// DefaultIdleTimeout.
	IdleTimeout time.Duration

	Logger *slog.Logger
}

// Main handles the chat widget: it serves the widget pages, relays user messages to the Responder,
// and types the replies out to the browser over server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	responder Responder
	store     Store
	views     *views

	logger *slog.Logger
}

const errLoggerKey = "err"

// SSE event types for real-time updates.
var (
	messagesSSEType     = sse.Type("messages")
	closeMessageSSEType = sse.Type("closeMessage")
	closeChatSSEType    = sse.Type("closeChat")
)

// NewMain creates a new Main instance with the provided Responder and Store implementations. It
// parses the HTML templates from the embedded filesystem and configures the SSE server. A client
// that subscribes to a message whose reply is ready starts the reveal of that reply, once the
// subscription is registered.
func NewMain(responder Responder, store Store, opts MainOptions) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		chatwidget.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("module", "main"))

	m := Main{
		templates: tmpl,
		responder: responder,
		store:     store,
		logger:    logger,
	}
	m.views = newViews(opts.Frame, opts.IdleTimeout, opts.Typewriter, m.publishUpdate, logger)
	m.sseSrv = &sse.Server{
		Provider: &sse.Joe{Replayer: revealReplayer{views: m.views}},
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			topics := []string{sse.DefaultTopic}

			messageID := s.Req.URL.Query().Get("message_id")
			if messageID != "" {
				topics = append(topics, messageIDTopic(messageID))
			}

			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      topics,
			}, true
		},
	}

	return m, nil
}

const messageTopicPrefix = "message-"

func messageIDTopic(messageID string) string {
	return messageTopicPrefix + messageID
}

// publishUpdate runs on the loop of the view that revealed the update.
func (m Main) publishUpdate(u typewriter.Update) {
	content, err := models.RenderMarkdown(u.Text)
	if err != nil {
		m.logger.Error("Failed to render update",
			slog.String("messageID", u.MessageID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := &sse.Message{Type: messagesSSEType}
	msg.AppendData(content)
	if err := m.sseSrv.Publish(msg, messageIDTopic(u.MessageID)); err != nil {
		m.logger.Error("Failed to publish update",
			slog.String("messageID", u.MessageID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if !u.Complete {
		return
	}
	e := &sse.Message{Type: closeMessageSSEType}
	e.AppendData("bye")
	if err := m.sseSrv.Publish(e, messageIDTopic(u.MessageID)); err != nil {
		m.logger.Error("Failed to publish close message",
			slog.String("messageID", u.MessageID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the Main instance. It stops every reveal, broadcasts a close
// message to all connected clients and waits up to 5 seconds for connections to terminate. After
// the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.views.closeAll()

	e := &sse.Message{Type: closeChatSSEType}
	// We create a close event that carries data, which SSE requires
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
