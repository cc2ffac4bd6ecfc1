package api

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultReadBatchSize bounds how many messages one MarkConversationRead call flips.
const DefaultReadBatchSize = 100

type ChatService interface {
	FindOrCreateDirectConversation(ctx context.Context, initiatorId, counterpartId string, kind Kind) (string, error)
	FindOrCreateSupportConversation(ctx context.Context, clientId string) (string, error)
	SendMessage(ctx context.Context, conversationId, senderId, text string, upload *Upload) (Message, error)
	MarkConversationRead(ctx context.Context, conversationId, participantId string) (int, error)
	SubscribeConversations(ctx context.Context, viewer Viewer) (*Subscription[[]Conversation], error)
	SubscribeMessages(ctx context.Context, conversationId string) (*Subscription[[]Message], error)
	GetConversation(ctx context.Context, viewer Viewer, conversationId string) (Conversation, error)
	ListMessages(ctx context.Context, viewer Viewer, conversationId string) ([]Message, error)
}

// ChatRepository is the durable store of conversations and their messages.
type ChatRepository interface {
	GetConversation(ctx context.Context, conversationId string) (Conversation, error)
	FindConversationByPair(ctx context.Context, pairKey string) (Conversation, error)
	// CreateConversation persists conv unless a conversation with the same
	// PairKey exists, in which case the existing one is returned.
	CreateConversation(ctx context.Context, conv Conversation) (Conversation, bool, error)
	// CommitMessage applies write atomically, assigning the message id and a
	// timestamp strictly after the conversation's previous lastMessage.
	CommitMessage(ctx context.Context, write MessageWrite) (Message, error)
	// MarkRead zeroes the participant's unread counter and flips at most limit
	// unread messages to read. It returns the number of messages flipped.
	MarkRead(ctx context.Context, conversationId, participantId string, limit int) (int, error)
	WatchConversations(ctx context.Context, filter ConversationFilter, yield func([]Conversation)) error
	WatchMessages(ctx context.Context, conversationId string, yield func([]Message)) error
}

// AttachmentStore stores bytes at path and returns a retrievable address.
type AttachmentStore interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
}

type Options struct {
	ReadBatchSize      int
	MaxAttachmentBytes int64
	Now                func() time.Time
}

type chatService struct {
	storage     ChatRepository
	users       UserService
	attachments AttachmentStore
	opts        Options
}

func NewChatService(storage ChatRepository, users UserService, attachments AttachmentStore, opts Options) ChatService {
	if opts.ReadBatchSize <= 0 {
		opts.ReadBatchSize = DefaultReadBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &chatService{storage: storage, users: users, attachments: attachments, opts: opts}
}

func (c *chatService) FindOrCreateDirectConversation(ctx context.Context, initiatorId, counterpartId string, kind Kind) (string, error) {
	if initiatorId == "" || counterpartId == "" {
		return "", fmt.Errorf("%w: participant ids are required", ErrInvalidArgument)
	}
	if initiatorId == counterpartId {
		return "", fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidArgument)
	}
	if initiatorId == SupportID || counterpartId == SupportID {
		return "", fmt.Errorf("%w: support conversations are opened through the support channel", ErrInvalidArgument)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown conversation kind %q", ErrInvalidArgument, kind)
	}
	return c.findOrCreate(ctx, initiatorId, counterpartId, kind)
}

// KindFits reports whether kind names the role of the non-client side of the
// pair. That is the counterpart, or the initiator when the counterpart is a client.
func KindFits(kind Kind, initiator, counterpart Profile) bool {
	if counterpart.Role != RoleClient {
		return Kind(counterpart.Role) == kind
	}
	return initiator.Role != RoleClient && Kind(initiator.Role) == kind
}

func (c *chatService) FindOrCreateSupportConversation(ctx context.Context, clientId string) (string, error) {
	if clientId == "" {
		return "", fmt.Errorf("%w: client id is required", ErrInvalidArgument)
	}
	if clientId == SupportID {
		return "", fmt.Errorf("%w: support cannot open a support conversation", ErrInvalidArgument)
	}
	return c.findOrCreate(ctx, clientId, SupportID, KindAdmin)
}

func (c *chatService) findOrCreate(ctx context.Context, initiatorId, counterpartId string, kind Kind) (string, error) {
	pairKey := PairKey(initiatorId, counterpartId)

	existing, err := c.storage.FindConversationByPair(ctx, pairKey)
	if err == nil {
		if existing.Kind != kind {
			return "", fmt.Errorf("%w: %s and %s already share a %s conversation", ErrInvalidArgument, initiatorId, counterpartId, existing.Kind)
		}
		return existing.Id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	initiator, err := c.users.ResolveParticipant(ctx, initiatorId)
	if err != nil {
		return "", err
	}
	counterpart, err := c.users.ResolveParticipant(ctx, counterpartId)
	if err != nil {
		return "", err
	}
	if !KindFits(kind, initiator, counterpart) {
		return "", fmt.Errorf("%w: kind %q does not match the roles of %s and %s", ErrInvalidArgument, kind, initiatorId, counterpartId)
	}

	conv := Conversation{
		Participants: []string{initiatorId, counterpartId},
		ParticipantDetails: map[string]Profile{
			initiatorId:   initiator,
			counterpartId: counterpart,
		},
		InitiatedBy: initiatorId,
		Kind:        kind,
		PairKey:     pairKey,
		CreatedAt:   c.opts.Now().UTC(),
		UnreadCount: map[string]int64{
			initiatorId:   0,
			counterpartId: 0,
		},
	}

	created, isNew, err := c.storage.CreateConversation(ctx, conv)
	if err != nil {
		return "", err
	}
	if !isNew && created.Kind != kind {
		return "", fmt.Errorf("%w: %s and %s already share a %s conversation", ErrInvalidArgument, initiatorId, counterpartId, created.Kind)
	}
	if isNew {
		log.Info().
			Str("conversation_id", created.Id).
			Str("initiated_by", initiatorId).
			Str("kind", string(kind)).
			Msg("created conversation")
	}
	return created.Id, nil
}

// CanSend reports whether senderId may write into conv.
//
// Clients may always send. Any other participant may send only into a
// conversation it did not initiate. The sender's role comes from the
// conversation's participant snapshot.
func CanSend(conv Conversation, senderId string) bool {
	if !conv.HasParticipant(senderId) {
		return false
	}
	if conv.ParticipantDetails[senderId].Role == RoleClient {
		return true
	}
	return conv.InitiatedBy != senderId
}

func (c *chatService) SendMessage(ctx context.Context, conversationId, senderId, text string, upload *Upload) (Message, error) {
	if upload != nil && len(upload.Bytes) == 0 {
		upload = nil
	}
	if strings.TrimSpace(text) == "" && upload == nil {
		return Message{}, fmt.Errorf("%w: message needs text or an attachment, whitespace-only text counts as empty", ErrInvalidArgument)
	}
	if upload != nil && c.opts.MaxAttachmentBytes > 0 && int64(len(upload.Bytes)) > c.opts.MaxAttachmentBytes {
		return Message{}, fmt.Errorf("%w: attachment exceeds %d bytes", ErrInvalidArgument, c.opts.MaxAttachmentBytes)
	}

	conv, err := c.storage.GetConversation(ctx, conversationId)
	if err != nil {
		return Message{}, err
	}
	if !conv.HasParticipant(senderId) {
		return Message{}, fmt.Errorf("%w: %s is not a participant", ErrForbidden, senderId)
	}
	if !CanSend(conv, senderId) {
		return Message{}, fmt.Errorf("%w: %s initiated this conversation and cannot send into it", ErrForbidden, senderId)
	}

	msg := Message{
		SenderId: senderId,
		Text:     text,
		Read:     make(map[string]bool, len(conv.Participants)),
	}
	var recipients []string
	for _, p := range conv.Participants {
		msg.Read[p] = p == senderId
		if p != senderId {
			recipients = append(recipients, p)
		}
	}

	if upload != nil {
		attachment, err := c.upload(ctx, conversationId, upload)
		if err != nil {
			return Message{}, err
		}
		msg.Attachment = attachment
	}

	msg, err = c.storage.CommitMessage(ctx, MessageWrite{
		ConversationId: conversationId,
		Message:        msg,
		Recipients:     recipients,
	})
	if err != nil {
		return Message{}, err
	}

	log.Debug().
		Str("conversation_id", conversationId).
		Str("message_id", msg.Id).
		Str("sender_id", senderId).
		Bool("attachment", msg.Attachment != nil).
		Msg("message sent")
	return msg, nil
}

func (c *chatService) upload(ctx context.Context, conversationId string, upload *Upload) (*Attachment, error) {
	if c.attachments == nil {
		return nil, fmt.Errorf("%w: no attachment store configured", ErrUploadFailed)
	}

	name := path.Base(strings.ReplaceAll(upload.Name, "\\", "/"))
	if name == "." || name == "/" {
		name = "attachment"
	}
	objectPath := fmt.Sprintf("chat/%s/%d_%s", conversationId, c.opts.Now().UnixNano(), name)

	address, err := c.attachments.Upload(ctx, objectPath, upload.Bytes)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationId).Str("path", objectPath).Msg("attachment upload failed")
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	return &Attachment{
		Address:      address,
		Kind:         ClassifyAttachment(name),
		OriginalName: upload.Name,
	}, nil
}

func (c *chatService) MarkConversationRead(ctx context.Context, conversationId, participantId string) (int, error) {
	conv, err := c.storage.GetConversation(ctx, conversationId)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(participantId) {
		return 0, fmt.Errorf("%w: %s is not a participant", ErrForbidden, participantId)
	}
	return c.storage.MarkRead(ctx, conversationId, participantId, c.opts.ReadBatchSize)
}

// ConversationFilterFor is the single role → filter table for list subscriptions.
func ConversationFilterFor(viewer Viewer) ConversationFilter {
	switch viewer.Role {
	case RoleClient:
		return ConversationFilter{ParticipantId: viewer.Id}
	case RoleAdmin:
		return ConversationFilter{Kind: KindAdmin}
	default:
		return ConversationFilter{ParticipantId: viewer.Id, Kind: Kind(viewer.Role)}
	}
}

func (c *chatService) SubscribeConversations(ctx context.Context, viewer Viewer) (*Subscription[[]Conversation], error) {
	if viewer.Id == "" {
		return nil, fmt.Errorf("%w: viewer id is required", ErrInvalidArgument)
	}
	filter := ConversationFilterFor(viewer)
	return startSubscription(ctx, func(ctx context.Context, yield func([]Conversation)) error {
		return c.storage.WatchConversations(ctx, filter, yield)
	}), nil
}

func (c *chatService) SubscribeMessages(ctx context.Context, conversationId string) (*Subscription[[]Message], error) {
	if _, err := c.storage.GetConversation(ctx, conversationId); err != nil {
		return nil, err
	}
	return startSubscription(ctx, func(ctx context.Context, yield func([]Message)) error {
		return c.storage.WatchMessages(ctx, conversationId, yield)
	}), nil
}

// CanView reports whether viewer may read conv.
func CanView(conv Conversation, viewer Viewer) bool {
	if conv.HasParticipant(viewer.Id) {
		return true
	}
	return viewer.Role == RoleAdmin && conv.Kind == KindAdmin
}

func (c *chatService) GetConversation(ctx context.Context, viewer Viewer, conversationId string) (Conversation, error) {
	conv, err := c.storage.GetConversation(ctx, conversationId)
	if err != nil {
		return Conversation{}, err
	}
	if !CanView(conv, viewer) {
		return Conversation{}, fmt.Errorf("%w: %s cannot view this conversation", ErrForbidden, viewer.Id)
	}
	return conv, nil
}

func (c *chatService) ListMessages(ctx context.Context, viewer Viewer, conversationId string) ([]Message, error) {
	if _, err := c.GetConversation(ctx, viewer, conversationId); err != nil {
		return nil, err
	}
	sub, err := c.SubscribeMessages(ctx, conversationId)
	if err != nil {
		return nil, err
	}
	return sub.First(ctx)
}

// ActingParticipant is the participant id viewer writes as in conv. Admins
// answer support conversations as the support sentinel.
func ActingParticipant(conv Conversation, viewer Viewer) string {
	if !conv.HasParticipant(viewer.Id) && viewer.Role == RoleAdmin && conv.Kind == KindAdmin && conv.HasParticipant(SupportID) {
		return SupportID
	}
	return viewer.Id
}
