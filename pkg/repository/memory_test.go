package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"messagingService/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversation(a, b string, kind api.Kind) api.Conversation {
	return api.Conversation{
		Participants: []string{a, b},
		ParticipantDetails: map[string]api.Profile{
			a: {Role: api.RoleClient},
			b: {Role: api.Role(kind)},
		},
		InitiatedBy: a,
		Kind:        kind,
		PairKey:     api.PairKey(a, b),
		CreatedAt:   time.Now().UTC(),
		UnreadCount: map[string]int64{a: 0, b: 0},
	}
}

func commit(t *testing.T, m *MemoryStorage, convId, sender, recipient, text string) api.Message {
	t.Helper()
	msg, err := m.CommitMessage(context.Background(), api.MessageWrite{
		ConversationId: convId,
		Message: api.Message{
			SenderId: sender,
			Text:     text,
			Read:     map[string]bool{sender: true, recipient: false},
		},
		Recipients: []string{recipient},
	})
	require.NoError(t, err)
	return msg
}

func TestMemoryStorage_CreateConversationIsIdempotent(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, isNew, err := m.CreateConversation(ctx, newConversation("c1", "s1", api.KindSupplier))
			assert.NoError(t, err)
			mu.Lock()
			ids[conv.Id] = struct{}{}
			if isNew {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)

	found, err := m.FindConversationByPair(ctx, api.PairKey("s1", "c1"))
	require.NoError(t, err)
	assert.Contains(t, ids, found.Id)

	_, err = m.FindConversationByPair(ctx, api.PairKey("c1", "p1"))
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestMemoryStorage_CommitMessage(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()
	frozen := time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return frozen })

	conv, _, err := m.CreateConversation(ctx, newConversation("c1", "s1", api.KindSupplier))
	require.NoError(t, err)

	first := commit(t, m, conv.Id, "c1", "s1", "hello")
	second := commit(t, m, conv.Id, "c1", "s1", "again")

	assert.NotEmpty(t, first.Id)
	assert.Equal(t, frozen, first.Timestamp)
	assert.Equal(t, frozen.Add(time.Microsecond), second.Timestamp)

	stored, err := m.GetConversation(ctx, conv.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.UnreadCount["s1"])
	assert.Equal(t, int64(0), stored.UnreadCount["c1"])
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, "again", stored.LastMessage.Text)
	assert.Equal(t, second.Timestamp, stored.LastMessage.Timestamp)

	_, err = m.CommitMessage(ctx, api.MessageWrite{ConversationId: conv.Id, Recipients: []string{"intruder"}})
	assert.ErrorIs(t, err, api.ErrForbidden)
	_, err = m.CommitMessage(ctx, api.MessageWrite{ConversationId: "missing"})
	assert.ErrorIs(t, err, api.ErrNotFound)

	unchanged, err := m.GetConversation(ctx, conv.Id)
	require.NoError(t, err)
	assert.Equal(t, stored.UnreadCount, unchanged.UnreadCount)
}

func TestMemoryStorage_SnapshotsAreCopies(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	conv, _, err := m.CreateConversation(ctx, newConversation("c1", "s1", api.KindSupplier))
	require.NoError(t, err)
	conv.UnreadCount["s1"] = 99
	conv.Participants[0] = "mallory"

	stored, err := m.GetConversation(ctx, conv.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.UnreadCount["s1"])
	assert.True(t, stored.HasParticipant("c1"))
}

func TestMemoryStorage_MarkRead(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	conv, _, err := m.CreateConversation(ctx, newConversation("c1", "s1", api.KindSupplier))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		commit(t, m, conv.Id, "c1", "s1", "ping")
	}

	marked, err := m.MarkRead(ctx, conv.Id, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	stored, err := m.GetConversation(ctx, conv.Id)
	require.NoError(t, err)
	assert.Zero(t, stored.UnreadCount["s1"])

	marked, err = m.MarkRead(ctx, conv.Id, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	marked, err = m.MarkRead(ctx, conv.Id, "c1", 2)
	require.NoError(t, err)
	assert.Zero(t, marked)

	_, err = m.MarkRead(ctx, conv.Id, "p1", 2)
	assert.ErrorIs(t, err, api.ErrForbidden)
}

func TestMemoryStorage_WatchConversationsFilters(t *testing.T) {
	m := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := make(chan []api.Conversation, 16)
	done := make(chan error, 1)
	go func() {
		done <- m.WatchConversations(ctx, api.ConversationFilter{ParticipantId: "s1", Kind: api.KindSupplier}, func(c []api.Conversation) {
			snapshots <- c
		})
	}()

	assert.Empty(t, <-snapshots)

	_, _, err := m.CreateConversation(context.Background(), newConversation("c1", "p1", api.KindPlanner))
	require.NoError(t, err)
	supplierConv, _, err := m.CreateConversation(context.Background(), newConversation("c1", "s1", api.KindSupplier))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case snapshot := <-snapshots:
			return len(snapshot) == 1 && snapshot[0].Id == supplierConv.Id
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMemoryStorage_WatchMessages(t *testing.T) {
	m := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv, _, err := m.CreateConversation(context.Background(), newConversation("c1", "s1", api.KindSupplier))
	require.NoError(t, err)
	commit(t, m, conv.Id, "c1", "s1", "one")

	snapshots := make(chan []api.Message, 16)
	go func() {
		_ = m.WatchMessages(ctx, conv.Id, func(msgs []api.Message) { snapshots <- msgs })
	}()

	initial := <-snapshots
	require.Len(t, initial, 1)
	assert.Equal(t, "one", initial[0].Text)

	commit(t, m, conv.Id, "s1", "c1", "two")

	require.Eventually(t, func() bool {
		select {
		case snapshot := <-snapshots:
			return len(snapshot) == 2 && snapshot[1].Text == "two"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStorage_ResolveParticipant(t *testing.T) {
	m := NewMemoryStorage()
	m.PutProfile("c1", api.Profile{DisplayName: "Carla", Role: api.RoleClient})

	profile, err := m.ResolveParticipant(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Carla", profile.DisplayName)

	_, err = m.ResolveParticipant(context.Background(), "ghost")
	assert.ErrorIs(t, err, api.ErrNotFound)
}
