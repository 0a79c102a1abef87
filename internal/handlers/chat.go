package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cosentus/chat-widget/internal/models"
	"github.com/google/uuid"
)

type message struct {
	ID        string
	ChatID    string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

const (
	errorReply    = "Sorry, I encountered an error. Please try again."
	maxTitleRunes = 60
)

// HandleChats relays a user message to the Responder and prepares the reveal of its reply.
//
// The handler expects a "message" form field and an optional "chat_id" field. If no chat_id is
// provided, it creates a new chat. The reply is fetched in full before the handler responds; the
// rendered assistant message starts empty in the loading state and is typed out over SSE once the
// browser subscribes to it.
//
// A failing Responder is not an HTTP error: the handler renders an apology as the assistant message
// instead, so the widget stays usable.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	chat, err := m.chatOf(r.Context(), r.FormValue("chat_id"), msg)
	if err != nil {
		if errors.Is(err, models.ErrChatNotFound) {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}
		m.logger.Error("Failed to get chat", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	um := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   msg,
		Timestamp: time.Now(),
	}
	um.ID, err = m.store.AddMessage(r.Context(), chat.ID, um)
	if err != nil {
		m.logger.Error("Failed to add user message",
			slog.String("chatID", chat.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	history, err := m.store.Messages(r.Context(), chat.ID)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("chatID", chat.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	aiState := models.StreamingStateLoading
	am, err := m.reply(r.Context(), chat, history)
	if err != nil {
		m.logger.Error("Failed to get reply",
			slog.String("chatID", chat.ID),
			slog.String(errLoggerKey, err.Error()))
		am = models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   errorReply,
			Timestamp: time.Now(),
		}
		aiState = models.StreamingStateEnded
	} else {
		m.views.queue(chat.ID, am.ID, am.Content)
		// The content is revealed over SSE, so the message starts empty.
		am.Content = ""
	}

	if err := m.renderMessage(w, "user_message", chat.ID, um, models.StreamingStateEnded); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.renderMessage(w, "ai_message", chat.ID, am, aiState); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// chatOf returns the chat identified by chatID, or a new chat titled after its first message when
// chatID is empty.
func (m Main) chatOf(ctx context.Context, chatID, firstMessage string) (models.Chat, error) {
	if chatID != "" {
		return m.store.Chat(ctx, chatID)
	}

	title := firstMessage
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes]) + "…"
	}
	chat := models.Chat{
		ID:    uuid.New().String(),
		Title: title,
	}
	id, err := m.store.AddChat(ctx, chat)
	if err != nil {
		return models.Chat{}, fmt.Errorf("failed to add chat: %w", err)
	}
	chat.ID = id
	m.logger.Info("Chat created", slog.String("chatID", id))
	return chat, nil
}

// reply asks the Responder for the reply to history and stores it, together with the vendor thread
// of the chat if it changed.
func (m Main) reply(ctx context.Context, chat models.Chat, history []models.Message) (models.Message, error) {
	reply, err := m.responder.Respond(ctx, chat.ThreadID, history)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to get response: %w", err)
	}

	if reply.ThreadID != chat.ThreadID {
		chat.ThreadID = reply.ThreadID
		if err := m.store.UpdateChat(ctx, chat); err != nil {
			return models.Message{}, fmt.Errorf("failed to update chat thread: %w", err)
		}
	}

	am := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   reply.Text,
		Timestamp: time.Now(),
	}
	am.ID, err = m.store.AddMessage(ctx, chat.ID, am)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to add AI message: %w", err)
	}
	return am, nil
}

func (m Main) renderMessage(w http.ResponseWriter, name, chatID string, msg models.Message, state string) error {
	content, err := models.RenderMarkdown(msg.Content)
	if err != nil {
		m.logger.Error("Failed to render contents",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return err
	}

	return m.templates.ExecuteTemplate(w, name, message{
		ID:             msg.ID,
		ChatID:         chatID,
		Role:           string(msg.Role),
		Content:        template.HTML(content),
		Timestamp:      msg.Timestamp,
		StreamingState: state,
	})
}

// HandleVisibility receives the visibility changes of a chat widget through the "chat_id" and
// "visible" form fields. Replies being revealed in a hidden widget pause, and resume from where
// they stopped once the widget is visible again.
func (m Main) HandleVisibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if chatID == "" {
		http.Error(w, "Chat ID is required", http.StatusBadRequest)
		return
	}

	visible, err := strconv.ParseBool(r.FormValue("visible"))
	if err != nil {
		http.Error(w, "Visible must be a boolean", http.StatusBadRequest)
		return
	}

	if !m.views.setVisible(chatID, visible) {
		m.logger.Debug("Visibility change for a chat without view", slog.String("chatID", chatID))
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleEndChat closes the chat widget identified by the "chat_id" form field: it stops every reply
// still being revealed and ends the vendor conversation if the Responder keeps one.
func (m Main) HandleEndChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if chatID == "" {
		http.Error(w, "Chat ID is required", http.StatusBadRequest)
		return
	}

	m.views.close(chatID)

	chat, err := m.store.Chat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, models.ErrChatNotFound) {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}
		m.logger.Error("Failed to get chat", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ender, ok := m.responder.(ThreadEnder)
	if ok && chat.ThreadID != "" {
		if err := ender.EndThread(r.Context(), chat.ThreadID); err != nil {
			m.logger.Error("Failed to end chat",
				slog.String("chatID", chatID),
				slog.String("threadID", chat.ThreadID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, "Failed to end chat", http.StatusInternalServerError)
			return
		}
		m.logger.Info("Chat ended", slog.String("chatID", chatID))

		// The vendor conversation is gone, a later message starts a new one.
		chat.ThreadID = ""
		if err := m.store.UpdateChat(r.Context(), chat); err != nil {
			m.logger.Error("Failed to clear chat thread",
				slog.String("chatID", chatID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE serves the server-sent event stream the widget subscribes to for reply updates. The
// stream keeps the view of its "chat_id" open, and an optional "visible" query parameter reports
// whether the widget is visible when it subscribes.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	chatID := query.Get("chat_id")

	if chatID != "" {
		if v, ok := m.views.acquire(chatID); ok {
			defer m.views.release(chatID, v)
		}
		if raw := query.Get("visible"); raw != "" {
			visible, err := strconv.ParseBool(raw)
			if err != nil {
				http.Error(w, "Visible must be a boolean", http.StatusBadRequest)
				return
			}
			m.views.setVisible(chatID, visible)
		}
	}

	m.sseSrv.ServeHTTP(w, r)
}
