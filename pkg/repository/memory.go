package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"messagingService/pkg/api"

	"github.com/google/uuid"
)

// MemoryStorage keeps conversations in process. Every mutation happens under
// one lock, so watchers always observe a message together with the
// conversation summary and counters it updated.
type MemoryStorage struct {
	mu            sync.Mutex
	conversations map[string]*api.Conversation
	messages      map[string][]api.Message
	profiles      map[string]api.Profile
	watchers      map[int]*watcher
	nextWatcher   int
	now           func() time.Time
}

type watcher struct {
	relevant func(conversationId string, conv *api.Conversation) bool
	notify   chan struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*api.Conversation),
		messages:      make(map[string][]api.Message),
		profiles:      make(map[string]api.Profile),
		watchers:      make(map[int]*watcher),
		now:           time.Now,
	}
}

// SetClock replaces the time source used for message timestamps.
func (m *MemoryStorage) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// PutProfile registers a participant so the storage can act as an identity directory.
func (m *MemoryStorage) PutProfile(id string, profile api.Profile) {
	m.mu.Lock()
	m.profiles[id] = profile
	m.mu.Unlock()
}

func (m *MemoryStorage) ResolveParticipant(_ context.Context, id string) (api.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[id]
	if !ok {
		return api.Profile{}, fmt.Errorf("%w: participant %s", api.ErrNotFound, id)
	}
	return profile, nil
}

func (m *MemoryStorage) GetConversation(_ context.Context, conversationId string) (api.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[conversationId]
	if !ok {
		return api.Conversation{}, fmt.Errorf("%w: conversation %s", api.ErrNotFound, conversationId)
	}
	return cloneConversation(conv), nil
}

func (m *MemoryStorage) FindConversationByPair(_ context.Context, pairKey string) (api.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv := m.findByPairLocked(pairKey); conv != nil {
		return cloneConversation(conv), nil
	}
	return api.Conversation{}, fmt.Errorf("%w: no conversation for pair %s", api.ErrNotFound, pairKey)
}

func (m *MemoryStorage) findByPairLocked(pairKey string) *api.Conversation {
	for _, conv := range m.conversations {
		if conv.PairKey == pairKey {
			return conv
		}
	}
	return nil
}

func (m *MemoryStorage) CreateConversation(_ context.Context, conv api.Conversation) (api.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.findByPairLocked(conv.PairKey); existing != nil {
		return cloneConversation(existing), false, nil
	}

	conv.Id = uuid.NewString()
	stored := cloneConversation(&conv)
	m.conversations[conv.Id] = &stored
	m.notifyLocked(conv.Id)

	return cloneConversation(&stored), true, nil
}

func (m *MemoryStorage) CommitMessage(_ context.Context, write api.MessageWrite) (api.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[write.ConversationId]
	if !ok {
		return api.Message{}, fmt.Errorf("%w: conversation %s", api.ErrNotFound, write.ConversationId)
	}
	for _, r := range write.Recipients {
		if !conv.HasParticipant(r) {
			return api.Message{}, fmt.Errorf("%w: %s is not a participant", api.ErrForbidden, r)
		}
	}

	msg := cloneMessage(write.Message)
	msg.Id = uuid.NewString()
	msg.Timestamp = api.NextTimestamp(conv.LastMessage, m.now())

	m.messages[conv.Id] = append(m.messages[conv.Id], msg)
	conv.LastMessage = &api.LastMessage{
		Text:      api.Preview(msg),
		SenderId:  msg.SenderId,
		Timestamp: msg.Timestamp,
	}
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int64)
	}
	for _, r := range write.Recipients {
		conv.UnreadCount[r]++
	}
	m.notifyLocked(conv.Id)

	return cloneMessage(msg), nil
}

func (m *MemoryStorage) MarkRead(_ context.Context, conversationId, participantId string, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationId]
	if !ok {
		return 0, fmt.Errorf("%w: conversation %s", api.ErrNotFound, conversationId)
	}
	if !conv.HasParticipant(participantId) {
		return 0, fmt.Errorf("%w: %s is not a participant", api.ErrForbidden, participantId)
	}

	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int64)
	}
	changed := conv.UnreadCount[participantId] != 0
	conv.UnreadCount[participantId] = 0

	marked := 0
	messages := m.messages[conversationId]
	for i := range messages {
		if marked >= limit {
			break
		}
		if read, tracked := messages[i].Read[participantId]; tracked && !read {
			messages[i].Read[participantId] = true
			marked++
		}
	}

	if changed || marked > 0 {
		m.notifyLocked(conversationId)
	}
	return marked, nil
}

func (m *MemoryStorage) WatchConversations(ctx context.Context, filter api.ConversationFilter, yield func([]api.Conversation)) error {
	id, w := m.addWatcher(func(_ string, conv *api.Conversation) bool {
		return conv != nil && filter.Matches(*conv)
	})
	defer m.removeWatcher(id)

	for {
		yield(m.listConversations(filter))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.notify:
		}
	}
}

func (m *MemoryStorage) WatchMessages(ctx context.Context, conversationId string, yield func([]api.Message)) error {
	id, w := m.addWatcher(func(changed string, _ *api.Conversation) bool {
		return changed == conversationId
	})
	defer m.removeWatcher(id)

	for {
		yield(m.listMessages(conversationId))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.notify:
		}
	}
}

func (m *MemoryStorage) listConversations(filter api.ConversationFilter) []api.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversations := make([]api.Conversation, 0)
	for _, conv := range m.conversations {
		if filter.Matches(*conv) {
			conversations = append(conversations, cloneConversation(conv))
		}
	}
	api.SortConversations(conversations)
	return conversations
}

func (m *MemoryStorage) listMessages(conversationId string) []api.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.messages[conversationId]
	messages := make([]api.Message, 0, len(stored))
	for _, msg := range stored {
		messages = append(messages, cloneMessage(msg))
	}
	return messages
}

func (m *MemoryStorage) addWatcher(relevant func(string, *api.Conversation) bool) (int, *watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWatcher++
	w := &watcher{relevant: relevant, notify: make(chan struct{}, 1)}
	m.watchers[m.nextWatcher] = w
	return m.nextWatcher, w
}

func (m *MemoryStorage) removeWatcher(id int) {
	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
}

func (m *MemoryStorage) notifyLocked(conversationId string) {
	conv := m.conversations[conversationId]
	for _, w := range m.watchers {
		if !w.relevant(conversationId, conv) {
			continue
		}
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func cloneConversation(c *api.Conversation) api.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.ParticipantDetails = make(map[string]api.Profile, len(c.ParticipantDetails))
	for k, v := range c.ParticipantDetails {
		out.ParticipantDetails[k] = v
	}
	out.UnreadCount = make(map[string]int64, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		out.UnreadCount[k] = v
	}
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return out
}

func cloneMessage(msg api.Message) api.Message {
	out := msg
	out.Read = make(map[string]bool, len(msg.Read))
	for k, v := range msg.Read {
		out.Read[k] = v
	}
	if msg.Attachment != nil {
		attachment := *msg.Attachment
		out.Attachment = &attachment
	}
	return out
}
