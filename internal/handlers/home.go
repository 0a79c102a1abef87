package handlers

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/cosentus/chat-widget/internal/models"
)

type homePageData struct {
	CurrentChatID string
	Messages      []message
}

// HandleHome renders the chat widget. When a "chat_id" query parameter names a stored chat, its
// messages are rendered in full.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.URL.Query().Get("chat_id")

	var msgs []message
	if chatID != "" {
		messages, err := m.store.Messages(r.Context(), chatID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("chatID", chatID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		msgs = make([]message, len(messages))
		for i, msg := range messages {
			content, err := models.RenderMarkdown(msg.Content)
			if err != nil {
				m.logger.Error("Failed to render contents",
					slog.String("messageID", msg.ID),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			msgs[i] = message{
				ID:             msg.ID,
				ChatID:         chatID,
				Role:           string(msg.Role),
				Content:        template.HTML(content),
				Timestamp:      msg.Timestamp,
				StreamingState: models.StreamingStateEnded,
			}
		}
	}

	data := homePageData{
		CurrentChatID: chatID,
		Messages:      msgs,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
