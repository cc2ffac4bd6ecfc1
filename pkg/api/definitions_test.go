package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAttachment(t *testing.T) {
	tests := map[string]AttachmentKind{
		"photo.jpg":       AttachmentImage,
		"photo.JPEG":      AttachmentImage,
		"logo.png":        AttachmentImage,
		"dance.gif":       AttachmentImage,
		"contract.PDF":    AttachmentPDF,
		"notes.txt":       AttachmentOther,
		"archive.tar.gz":  AttachmentOther,
		"no-extension":    AttachmentOther,
		"pdf":             AttachmentOther,
		"dir.png/readme":  AttachmentOther,
		"menu.final.jpeg": AttachmentImage,
	}
	for name, want := range tests {
		assert.Equal(t, want, ClassifyAttachment(name), name)
	}
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, PairKey("b", "a"), PairKey("a", "b"))
	assert.Equal(t, "a:b", PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "bc"), PairKey("ab", "c"))
}

func TestNextTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 5, 9, 30, 0, 123456789, time.UTC)

	assert.Equal(t, now.Truncate(time.Microsecond), NextTimestamp(nil, now))

	prev := &LastMessage{Timestamp: now.Truncate(time.Microsecond)}
	assert.Equal(t, prev.Timestamp.Add(time.Microsecond), NextTimestamp(prev, now))

	earlier := now.Add(-time.Hour)
	assert.Equal(t, prev.Timestamp.Add(time.Microsecond), NextTimestamp(prev, earlier))

	later := now.Add(time.Second)
	assert.Equal(t, later.Truncate(time.Microsecond), NextTimestamp(prev, later))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hello", Preview(Message{Text: "hello"}))
	assert.Equal(t, "plan.pdf", Preview(Message{Attachment: &Attachment{OriginalName: "plan.pdf"}}))
	assert.Equal(t, "see attached", Preview(Message{Text: "see attached", Attachment: &Attachment{OriginalName: "plan.pdf"}}))
}

func TestSortConversations(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conversations := []Conversation{
		{Id: "quiet", CreatedAt: base},
		{Id: "busy", CreatedAt: base, LastMessage: &LastMessage{Timestamp: base.Add(2 * time.Hour)}},
		{Id: "fresh", CreatedAt: base.Add(time.Hour)},
		{Id: "also-quiet", CreatedAt: base},
	}

	SortConversations(conversations)

	var ids []string
	for _, c := range conversations {
		ids = append(ids, c.Id)
	}
	assert.Equal(t, []string{"busy", "fresh", "also-quiet", "quiet"}, ids)
}

func TestConversationFilterFor(t *testing.T) {
	assert.Equal(t, ConversationFilter{ParticipantId: "c1"}, ConversationFilterFor(Viewer{Id: "c1", Role: RoleClient}))
	assert.Equal(t, ConversationFilter{Kind: KindAdmin}, ConversationFilterFor(Viewer{Id: "a1", Role: RoleAdmin}))
	assert.Equal(t, ConversationFilter{ParticipantId: "s1", Kind: KindSupplier}, ConversationFilterFor(Viewer{Id: "s1", Role: RoleSupplier}))
	assert.Equal(t, ConversationFilter{ParticipantId: "p1", Kind: KindPlanner}, ConversationFilterFor(Viewer{Id: "p1", Role: RolePlanner}))
}
