package repository

import (
	"context"
	"errors"
	"testing"
)

func TestMessageRepository_CreateAndListConversation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repos := NewRepositories(db)
	seedUsers(t, repos.User, "u1", "u2", "u3")

	contents := []struct {
		from, to, content string
	}{
		{"u1", "u2", "hi"},
		{"u2", "u1", "hello"},
		{"u1", "u3", "other conversation"},
		{"u1", "u2", "how are you"},
	}
	for _, c := range contents {
		msg, err := repos.Message.Create(ctx, c.from, c.to, c.content)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if msg.ID == "" || msg.Seen {
			t.Errorf("Create() = %+v, want non-empty id and seen=false", msg)
		}
	}

	conv, err := repos.Message.ListConversation(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("ListConversation() error = %v", err)
	}
	want := []string{"hi", "hello", "how are you"}
	if len(conv) != len(want) {
		t.Fatalf("ListConversation() returned %d messages, want %d", len(conv), len(want))
	}
	for i, m := range conv {
		if m.Content != want[i] {
			t.Errorf("conv[%d].Content = %q, want %q", i, m.Content, want[i])
		}
		if i > 0 && m.CreatedAt.Before(conv[i-1].CreatedAt) {
			t.Errorf("conv[%d] is older than conv[%d]", i, i-1)
		}
	}

	all, err := repos.Message.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListForUser() returned %d messages, want 4", len(all))
	}
}

func TestMessageRepository_CreateUnknownUser(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(setupTestDB(t))
	seedUsers(t, repos.User, "u1")

	if _, err := repos.Message.Create(ctx, "u1", "ghost", "hi"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Create() error = %v, want ErrUserNotFound", err)
	}
}

func TestMessageRepository_MarkSeen(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(setupTestDB(t))
	seedUsers(t, repos.User, "u1", "u2")

	for _, content := range []string{"one", "two"} {
		if _, err := repos.Message.Create(ctx, "u1", "u2", content); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	// 反方向的訊息不受影響
	if _, err := repos.Message.Create(ctx, "u2", "u1", "reply"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	count, err := repos.Message.MarkSeen(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	if count != 2 {
		t.Errorf("MarkSeen() = %d, want 2", count)
	}

	again, err := repos.Message.MarkSeen(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("MarkSeen() second call error = %v", err)
	}
	if again != 0 {
		t.Errorf("MarkSeen() second call = %d, want 0", again)
	}

	conv, err := repos.Message.ListConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("ListConversation() error = %v", err)
	}
	for _, m := range conv {
		wantSeen := m.SenderID == "u1"
		if m.Seen != wantSeen {
			t.Errorf("message %q seen = %v, want %v", m.Content, m.Seen, wantSeen)
		}
	}
}
