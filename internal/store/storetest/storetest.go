// Package storetest holds behaviour tests shared by every store variant.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/store"
)

// Run exercises s against the store.Store contract. s must be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		prompt := "be kind"
		conv, err := s.CreateConversation(ctx, chat.Conversation{Title: "New chat", Model: "claude-sonnet-4-5-20250929", SystemPrompt: &prompt})
		require.NoError(t, err)
		assert.NotEmpty(t, conv.ID)
		assert.False(t, conv.CreatedAt.IsZero())

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "New chat", got.Title)
		assert.Equal(t, "be kind", got.System())
		assert.True(t, conv.CreatedAt.Equal(got.CreatedAt))

		_, err = s.GetConversation(ctx, store.NewID())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list ordered by update time", func(t *testing.T) {
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		older, err := s.CreateConversation(ctx, chat.Conversation{Title: "older", CreatedAt: base, UpdatedAt: base})
		require.NoError(t, err)
		newer, err := s.CreateConversation(ctx, chat.Conversation{Title: "newer", CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)})
		require.NoError(t, err)

		_, err = s.UpdateConversation(ctx, older.ID, store.ConversationUpdate{UpdatedAt: base.Add(2 * time.Hour)})
		require.NoError(t, err)

		list, err := s.ListConversations(ctx)
		require.NoError(t, err)
		pos := map[string]int{}
		for i, c := range list {
			pos[c.ID] = i
		}
		assert.Less(t, pos[older.ID], pos[newer.ID])
		for i := 1; i < len(list); i++ {
			assert.False(t, list[i].UpdatedAt.After(list[i-1].UpdatedAt), "list not sorted at %d", i)
		}
	})

	t.Run("update fields", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, chat.Conversation{Title: "New chat"})
		require.NoError(t, err)

		title := "Renamed"
		prompt := "answer in haiku"
		model := "claude-opus-4-6"
		got, err := s.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{Title: &title, SystemPrompt: &prompt, Model: &model})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.Equal(t, "answer in haiku", got.System())
		assert.Equal(t, "claude-opus-4-6", got.Model)
		assert.False(t, got.UpdatedAt.Before(conv.UpdatedAt))

		empty := ""
		got, err = s.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{SystemPrompt: &empty})
		require.NoError(t, err)
		assert.Nil(t, got.SystemPrompt)
		assert.Equal(t, "Renamed", got.Title)

		reloaded, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Nil(t, reloaded.SystemPrompt)
		assert.Equal(t, "claude-opus-4-6", reloaded.Model)

		_, err = s.UpdateConversation(ctx, store.NewID(), store.ConversationUpdate{Title: &title})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("messages in order", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, chat.Conversation{Title: "thread"})
		require.NoError(t, err)

		base := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
		first, err := s.AppendMessage(ctx, chat.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: "look", ImageURLs: []string{"data:image/png;base64,AAAA"}, CreatedAt: base})
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, chat.Message{ConversationID: conv.ID, Role: chat.RoleAssistant, Content: "a pixel", ImageURLs: []string{}, CreatedAt: base.Add(time.Second)})
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "look", msgs[0].Content)
		assert.Equal(t, []string{"data:image/png;base64,AAAA"}, msgs[0].ImageURLs)
		assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
		assert.Nil(t, msgs[1].ImageURLs)

		_, err = s.AppendMessage(ctx, chat.Message{ConversationID: store.NewID(), Role: chat.RoleUser, Content: "orphan"})
		assert.ErrorIs(t, err, store.ErrNotFound)

		none, err := s.ListMessages(ctx, store.NewID())
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("equal timestamps keep insertion order", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, chat.Conversation{Title: "burst"})
		require.NoError(t, err)

		at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
		want := []string{"one", "two", "three", "four", "five"}
		for i, content := range want {
			role := chat.RoleUser
			if i%2 == 1 {
				role = chat.RoleAssistant
			}
			_, err := s.AppendMessage(ctx, chat.Message{ConversationID: conv.ID, Role: role, Content: content, CreatedAt: at})
			require.NoError(t, err)
		}

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		got := make([]string, 0, len(msgs))
		for _, m := range msgs {
			got = append(got, m.Content)
		}
		assert.Equal(t, want, got)
	})

	t.Run("delete cascades", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, chat.Conversation{Title: "doomed"})
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, chat.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: "bye"})
		require.NoError(t, err)

		require.NoError(t, s.DeleteConversation(ctx, conv.ID))
		_, err = s.GetConversation(ctx, conv.ID)
		assert.True(t, errors.Is(err, store.ErrNotFound))
		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		assert.ErrorIs(t, s.DeleteConversation(ctx, conv.ID), store.ErrNotFound)
	})
}
