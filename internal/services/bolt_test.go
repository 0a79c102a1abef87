package services_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cosentus/chat-widget/internal/models"
	"github.com/cosentus/chat-widget/internal/services"
)

func newBoltDB(t *testing.T) services.BoltDB {
	t.Helper()
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

func TestBoltDBChats(t *testing.T) {
	ctx := context.Background()
	db := newBoltDB(t)

	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		id, err := db.AddChat(ctx, models.Chat{ID: "chat", Title: title})
		if err != nil {
			t.Fatalf("AddChat() error = %v", err)
		}
		ids = append(ids, id)
	}
	if ids[0] == ids[1] {
		t.Fatalf("AddChat() returned duplicate id %q", ids[0])
	}

	chats, err := db.Chats(ctx)
	if err != nil {
		t.Fatalf("Chats() error = %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("Chats() returned %d chats, want 3", len(chats))
	}
	if chats[0].Title != "third" || chats[2].Title != "first" {
		t.Errorf("Chats() order = %q, %q, %q, want newest first", chats[0].Title, chats[1].Title, chats[2].Title)
	}

	updated := models.Chat{ID: ids[1], Title: "second", ThreadID: "thread_1"}
	if err := db.UpdateChat(ctx, updated); err != nil {
		t.Fatalf("UpdateChat() error = %v", err)
	}
	got, err := db.Chat(ctx, ids[1])
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got != updated {
		t.Errorf("Chat() = %+v, want %+v", got, updated)
	}

	if _, err := db.Chat(ctx, "missing"); !errors.Is(err, models.ErrChatNotFound) {
		t.Errorf("Chat() error = %v, want ErrChatNotFound", err)
	}
	if err := db.UpdateChat(ctx, models.Chat{ID: "missing"}); !errors.Is(err, models.ErrChatNotFound) {
		t.Errorf("UpdateChat() error = %v, want ErrChatNotFound", err)
	}
}

func TestBoltDBMessages(t *testing.T) {
	ctx := context.Background()
	db := newBoltDB(t)

	chatID, err := db.AddChat(ctx, models.Chat{ID: "chat"})
	if err != nil {
		t.Fatalf("AddChat() error = %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	var ids []string
	for i := range 12 {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		id, err := db.AddMessage(ctx, chatID, models.Message{
			ID:        "msg",
			Role:      role,
			Content:   string(rune('a' + i)),
			Timestamp: now,
		})
		if err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
		ids = append(ids, id)
	}

	msgs, err := db.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 12 {
		t.Fatalf("Messages() returned %d messages, want 12", len(msgs))
	}
	for i, msg := range msgs {
		if msg.ID != ids[i] {
			t.Errorf("message %d id = %q, want %q", i, msg.ID, ids[i])
		}
		if want := string(rune('a' + i)); msg.Content != want {
			t.Errorf("message %d content = %q, want %q", i, msg.Content, want)
		}
	}

	msgs[1].Content = "updated"
	if err := db.UpdateMessage(ctx, chatID, msgs[1]); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}
	msgs, err = db.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if msgs[1].Content != "updated" || len(msgs) != 12 {
		t.Errorf("UpdateMessage() did not overwrite in place: %+v", msgs[1])
	}

	if _, err := db.AddMessage(ctx, "missing", models.Message{ID: "msg"}); !errors.Is(err, models.ErrChatNotFound) {
		t.Errorf("AddMessage() error = %v, want ErrChatNotFound", err)
	}
	if msgs, err := db.Messages(ctx, "missing"); err != nil || len(msgs) != 0 {
		t.Errorf("Messages() of a missing chat = %v, %v", msgs, err)
	}
}
