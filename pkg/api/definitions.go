package api

import (
	"path"
	"sort"
	"strings"
	"time"
)

// SupportID is the reserved participant id of the support channel counterpart.
const SupportID = "support"

// Kind denotes the counterpart role of a conversation, or that it is a support channel.
type Kind string

const (
	KindSupplier Kind = "supplier"
	KindPlanner  Kind = "planner"
	KindAdmin    Kind = "admin"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSupplier, KindPlanner, KindAdmin:
		return true
	}
	return false
}

// Role is the platform role of a participant as recorded by the identity directory.
type Role string

const (
	RoleClient   Role = "client"
	RoleSupplier Role = "supplier"
	RolePlanner  Role = "planner"
	RoleAdmin    Role = "admin"
)

// AttachmentKind is derived from the uploaded file name only.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentPDF   AttachmentKind = "pdf"
	AttachmentOther AttachmentKind = "other"
)

// Profile is the display information of a participant.
type Profile struct {
	DisplayName   string `firestore:"displayName" json:"displayName" db:"display_name"`
	AvatarAddress string `firestore:"avatarAddress" json:"avatarAddress" db:"avatar_address"`
	Role          Role   `firestore:"role" json:"role" db:"role"`
}

// LastMessage is the preview of the most recent message of a conversation.
type LastMessage struct {
	Text      string    `firestore:"text" json:"text"`
	SenderId  string    `firestore:"senderId" json:"senderId"`
	Timestamp time.Time `firestore:"timestamp" json:"timestamp"`
}

// Conversation is a two-party thread.
//
// ParticipantDetails is a snapshot taken when the conversation was created.
// It is never refreshed, so it can lag behind later profile edits.
type Conversation struct {
	Id                 string             `firestore:"-" json:"id"`
	Participants       []string           `firestore:"participants" json:"participants"`
	ParticipantDetails map[string]Profile `firestore:"participantDetails" json:"participantDetails"`
	InitiatedBy        string             `firestore:"initiatedBy" json:"initiatedBy"`
	Kind               Kind               `firestore:"kind" json:"kind"`
	PairKey            string             `firestore:"pairKey" json:"-"`
	CreatedAt          time.Time          `firestore:"createdAt" json:"createdAt"`
	LastMessage        *LastMessage       `firestore:"lastMessage" json:"lastMessage,omitempty"`
	UnreadCount        map[string]int64   `firestore:"unreadCount" json:"unreadCount"`
}

// HasParticipant reports whether id is one of the two participants.
func (c Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not id.
func (c Conversation) Counterpart(id string) string {
	for _, p := range c.Participants {
		if p != id {
			return p
		}
	}
	return ""
}

// ActivityAt is the list ordering key: the last message time, or creation time.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

// Attachment references an uploaded file.
type Attachment struct {
	Address      string         `firestore:"address" json:"address"`
	Kind         AttachmentKind `firestore:"kind" json:"kind"`
	OriginalName string         `firestore:"originalName" json:"originalName"`
}

// Message is immutable once written, apart from its read flags.
type Message struct {
	Id         string          `firestore:"-" json:"id"`
	SenderId   string          `firestore:"senderId" json:"senderId"`
	Text       string          `firestore:"text" json:"text"`
	Timestamp  time.Time       `firestore:"timestamp" json:"timestamp"`
	Read       map[string]bool `firestore:"read" json:"read"`
	Attachment *Attachment     `firestore:"attachment,omitempty" json:"attachment,omitempty"`
}

// Upload is an attachment supplied with a send, before it reaches the attachment store.
type Upload struct {
	Name  string
	Bytes []byte
}

// MessageWrite is the unit the repository applies atomically: the message is
// appended, the conversation's lastMessage is replaced and every recipient's
// unread counter is incremented by one.
type MessageWrite struct {
	ConversationId string
	Message        Message
	Recipients     []string
}

// Viewer identifies who is looking at a conversation list and in which capacity.
type Viewer struct {
	Id   string `json:"id"`
	Role Role   `json:"role"`
}

// ConversationFilter selects conversations for a list subscription.
// Empty fields do not restrict.
type ConversationFilter struct {
	ParticipantId string
	Kind          Kind
}

// Matches reports whether c satisfies the filter.
func (f ConversationFilter) Matches(c Conversation) bool {
	if f.ParticipantId != "" && !c.HasParticipant(f.ParticipantId) {
		return false
	}
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	return true
}

// PairKey identifies the unordered pair {a, b}.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}

// ClassifyAttachment maps a file name to its attachment kind by extension.
func ClassifyAttachment(name string) AttachmentKind {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "jpg", "jpeg", "png", "gif":
		return AttachmentImage
	case "pdf":
		return AttachmentPDF
	default:
		return AttachmentOther
	}
}

// SortConversations orders by most recent activity first.
func SortConversations(conversations []Conversation) {
	sort.Slice(conversations, func(i, j int) bool {
		ai, aj := conversations[i].ActivityAt(), conversations[j].ActivityAt()
		if ai.Equal(aj) {
			return conversations[i].Id < conversations[j].Id
		}
		return ai.After(aj)
	})
}

// SortMessages orders by timestamp ascending.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

// NextTimestamp returns the write time for a message following prev: now,
// truncated to microseconds, or 1µs past prev when the clock has not advanced.
func NextTimestamp(prev *LastMessage, now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if prev != nil && !ts.After(prev.Timestamp) {
		ts = prev.Timestamp.UTC().Add(time.Microsecond)
	}
	return ts
}

// Preview is the lastMessage text for msg.
func Preview(msg Message) string {
	if msg.Text == "" && msg.Attachment != nil {
		return msg.Attachment.OriginalName
	}
	return msg.Text
}
