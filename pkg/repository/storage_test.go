package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"messagingService/pkg/api"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmulatorStorage connects to the Firestore emulator named by FIRESTORE_EMULATOR_HOST.
func newEmulatorStorage(t *testing.T) *storage {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(context.Background(), "chat-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return &storage{client: client, now: time.Now}
}

func TestStorage_PairKeyMustNameADocument(t *testing.T) {
	s := &storage{}

	_, err := s.FindConversationByPair(context.Background(), "a/b:c")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, _, err = s.CreateConversation(context.Background(), api.Conversation{PairKey: ""})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestStorage_CreateConversationKeyedByPair(t *testing.T) {
	s := newEmulatorStorage(t)
	ctx := context.Background()
	a, b := "c-"+uuid.NewString(), "s-"+uuid.NewString()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, isNew, err := s.CreateConversation(ctx, newConversation(a, b, api.KindSupplier))
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

	assert.Equal(t, map[string]struct{}{api.PairKey(a, b): {}}, ids)
	assert.Equal(t, 1, created)

	found, err := s.FindConversationByPair(ctx, api.PairKey(b, a))
	require.NoError(t, err)
	assert.Equal(t, api.PairKey(a, b), found.Id)
	assert.Equal(t, api.KindSupplier, found.Kind)

	_, err = s.FindConversationByPair(ctx, api.PairKey(a, "nobody-"+uuid.NewString()))
	assert.ErrorIs(t, err, api.ErrNotFound)
}
