package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"messagingService/pkg/api"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	usersCollection         = "users"
)

// Storage is the Firestore-backed conversation repository. It can also
// resolve participants from the users collection when no SQL directory is
// configured.
type Storage interface {
	api.ChatRepository
	api.IdentityDirectory
}

type storage struct {
	client *firestore.Client
	now    func() time.Time
}

func NewStorage(client *firestore.Client) Storage {
	return &storage{client: client, now: time.Now}
}

func (s *storage) conversations() *firestore.CollectionRef {
	return s.client.Collection(conversationsCollection)
}

func (s *storage) ResolveParticipant(ctx context.Context, id string) (api.Profile, error) {
	snap, err := s.client.Collection(usersCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return api.Profile{}, fmt.Errorf("%w: participant %s", api.ErrNotFound, id)
	}
	if err != nil {
		return api.Profile{}, err
	}

	var profile api.Profile
	if err := snap.DataTo(&profile); err != nil {
		return api.Profile{}, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return profile, nil
}

func (s *storage) GetConversation(ctx context.Context, conversationId string) (api.Conversation, error) {
	snap, err := s.conversations().Doc(conversationId).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return api.Conversation{}, fmt.Errorf("%w: conversation %s", api.ErrNotFound, conversationId)
	}
	if err != nil {
		return api.Conversation{}, err
	}
	return conversationFromSnap(snap)
}

// Conversations are keyed by their pair key, so each pair maps to exactly one document.
func (s *storage) pairDoc(pairKey string) (*firestore.DocumentRef, error) {
	if pairKey == "" || strings.Contains(pairKey, "/") {
		return nil, fmt.Errorf("%w: pair key %q cannot name a document", api.ErrInvalidArgument, pairKey)
	}
	return s.conversations().Doc(pairKey), nil
}

func (s *storage) FindConversationByPair(ctx context.Context, pairKey string) (api.Conversation, error) {
	ref, err := s.pairDoc(pairKey)
	if err != nil {
		return api.Conversation{}, err
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return api.Conversation{}, fmt.Errorf("%w: no conversation for pair %s", api.ErrNotFound, pairKey)
	}
	if err != nil {
		return api.Conversation{}, err
	}
	return conversationFromSnap(snap)
}

func (s *storage) CreateConversation(ctx context.Context, conv api.Conversation) (api.Conversation, bool, error) {
	ref, err := s.pairDoc(conv.PairKey)
	if err != nil {
		return api.Conversation{}, false, err
	}

	var (
		result  api.Conversation
		created bool
	)
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		snap, err := tx.Get(ref)
		if err == nil {
			result, err = conversationFromSnap(snap)
			return err
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		if err := tx.Create(ref, conv); err != nil {
			return err
		}
		result = conv
		result.Id = ref.ID
		created = true
		return nil
	})
	if status.Code(err) == codes.AlreadyExists {
		// Another writer created the pair first.
		existing, getErr := s.GetConversation(ctx, ref.ID)
		return existing, false, getErr
	}
	if err != nil {
		log.Error().Err(err).Str("pair_key", conv.PairKey).Msg("unable to create conversation")
		return api.Conversation{}, false, err
	}
	return result, created, nil
}

func (s *storage) CommitMessage(ctx context.Context, write api.MessageWrite) (api.Message, error) {
	convRef := s.conversations().Doc(write.ConversationId)
	// Allocated once so a retried transaction rewrites the same document.
	msgRef := convRef.Collection(messagesCollection).NewDoc()

	var msg api.Message
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(convRef)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: conversation %s", api.ErrNotFound, write.ConversationId)
		}
		if err != nil {
			return err
		}
		conv, err := conversationFromSnap(snap)
		if err != nil {
			return err
		}
		for _, r := range write.Recipients {
			if !conv.HasParticipant(r) {
				return fmt.Errorf("%w: %s is not a participant", api.ErrForbidden, r)
			}
		}

		msg = write.Message
		msg.Id = msgRef.ID
		msg.Timestamp = api.NextTimestamp(conv.LastMessage, s.now())

		if err := tx.Create(msgRef, msg); err != nil {
			return err
		}

		updates := []firestore.Update{{
			Path: "lastMessage",
			Value: api.LastMessage{
				Text:      api.Preview(msg),
				SenderId:  msg.SenderId,
				Timestamp: msg.Timestamp,
			},
		}}
		for _, r := range write.Recipients {
			updates = append(updates, firestore.Update{
				FieldPath: firestore.FieldPath{"unreadCount", r},
				Value:     firestore.Increment(1),
			})
		}
		return tx.Update(convRef, updates)
	})
	if err != nil {
		return api.Message{}, err
	}

	log.Debug().Str("conversation_id", write.ConversationId).Str("message_id", msg.Id).Msg("created message document")
	return msg, nil
}

func (s *storage) MarkRead(ctx context.Context, conversationId, participantId string, limit int) (int, error) {
	convRef := s.conversations().Doc(conversationId)

	var marked int
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		marked = 0
		snap, err := tx.Get(convRef)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: conversation %s", api.ErrNotFound, conversationId)
		}
		if err != nil {
			return err
		}
		conv, err := conversationFromSnap(snap)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(participantId) {
			return fmt.Errorf("%w: %s is not a participant", api.ErrForbidden, participantId)
		}

		unread := convRef.Collection(messagesCollection).
			WherePath(firestore.FieldPath{"read", participantId}, "==", false).
			Limit(limit)
		msgSnaps, err := tx.Documents(unread).GetAll()
		if err != nil {
			return err
		}

		if conv.UnreadCount[participantId] != 0 {
			if err := tx.Update(convRef, []firestore.Update{{
				FieldPath: firestore.FieldPath{"unreadCount", participantId},
				Value:     0,
			}}); err != nil {
				return err
			}
		}
		for _, msgSnap := range msgSnaps {
			if err := tx.Update(msgSnap.Ref, []firestore.Update{{
				FieldPath: firestore.FieldPath{"read", participantId},
				Value:     true,
			}}); err != nil {
				return err
			}
		}
		marked = len(msgSnaps)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

func (s *storage) WatchConversations(ctx context.Context, filter api.ConversationFilter, yield func([]api.Conversation)) error {
	query := s.conversations().Query
	if filter.ParticipantId != "" {
		query = query.Where("participants", "array-contains", filter.ParticipantId)
	}
	if filter.Kind != "" {
		query = query.Where("kind", "==", string(filter.Kind))
	}

	it := query.Snapshots(ctx)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("listening to conversations: %w", err)
		}
		snaps, err := qs.Documents.GetAll()
		if err != nil {
			return err
		}

		conversations := make([]api.Conversation, 0, len(snaps))
		for _, snap := range snaps {
			conv, err := conversationFromSnap(snap)
			if err != nil {
				log.Warn().Err(err).Str("conversation_id", snap.Ref.ID).Msg("skipping undecodable conversation")
				continue
			}
			conversations = append(conversations, conv)
		}
		api.SortConversations(conversations)
		yield(conversations)
	}
}

func (s *storage) WatchMessages(ctx context.Context, conversationId string, yield func([]api.Message)) error {
	query := s.conversations().Doc(conversationId).Collection(messagesCollection).OrderBy("timestamp", firestore.Asc)

	it := query.Snapshots(ctx)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("listening to messages of %s: %w", conversationId, err)
		}
		snaps, err := qs.Documents.GetAll()
		if err != nil {
			return err
		}

		messages := make([]api.Message, 0, len(snaps))
		for _, snap := range snaps {
			var msg api.Message
			if err := snap.DataTo(&msg); err != nil {
				log.Warn().Err(err).Str("message_id", snap.Ref.ID).Msg("skipping undecodable message")
				continue
			}
			msg.Id = snap.Ref.ID
			messages = append(messages, msg)
		}
		yield(messages)
	}
}

func conversationFromSnap(snap *firestore.DocumentSnapshot) (api.Conversation, error) {
	var conv api.Conversation
	if err := snap.DataTo(&conv); err != nil {
		return api.Conversation{}, fmt.Errorf("decoding conversation %s: %w", snap.Ref.ID, err)
	}
	conv.Id = snap.Ref.ID
	return conv, nil
}
