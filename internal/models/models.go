package models

import (
	"encoding/json"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrNotFound = errors.New("not found")
)

// User is a lightweight reference to a chat participant as the API returns it.
type User struct {
	ID           string `json:"_id"`
	Name         string `json:"name,omitempty"`
	ProfileImage string `json:"profile_image,omitempty"`
}

type DeliveryStatus string

const (
	// StatusSending marks an optimistic message that the server has not
	// confirmed yet.
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
)

type AttachmentKind string

const (
	AttachmentKindImage AttachmentKind = "image"
	AttachmentKindVideo AttachmentKind = "video"
	AttachmentKindFile  AttachmentKind = "file"
)

// Attachment references one piece of media carried by a message.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
}

// ReplySnapshot is the frozen view of the message being replied to. It is
// kept on the replying message so the reference survives edits and soft
// deletions of the target.
type ReplySnapshot struct {
	ID      string `json:"_id"`
	Sender  User   `json:"sender"`
	Content string `json:"content,omitempty"`
}

// Message is one entry of a room's ordered view.
//
// ID is assigned by the server and empty until the message is confirmed.
// TempID is assigned at creation time and always present for locally sent
// messages; it is retained after confirmation so a late duplicate echo still
// matches. Exactly one of the two is the effective list key at any time.
type Message struct {
	ID        string         `json:"_id,omitempty"`
	TempID    string         `json:"tempId,omitempty"`
	RoomID    string         `json:"roomId"`
	Sender    User           `json:"sender"`
	Content   string         `json:"content,omitempty"`
	Reply     *ReplySnapshot `json:"replyTo,omitempty"`
	Media     *Attachment    `json:"media,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Deleted   bool           `json:"deleted,omitempty"`

	// Local-only state, never sent to the server.
	Status DeliveryStatus `json:"-"`
	// HTML is the sanitized rendering of Content for the embedding view.
	HTML string `json:"-"`

	SeenBy mapset.Set[string] `json:"-"`
}

// Key returns the identifier the ordered view is keyed by: the durable id
// once the server assigned one, the correlation id before that.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Matches reports whether other refers to the same logical message, by
// durable identifier or by correlation identifier.
func (m *Message) Matches(other *Message) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}
	return m.TempID != "" && m.TempID == other.TempID
}

// MarkSeen adds userID to the seen-by set. Repeated application has no
// additional effect. It reports whether the set actually grew.
func (m *Message) MarkSeen(userID string) bool {
	if m.SeenBy == nil {
		m.SeenBy = mapset.NewSet[string]()
	}
	return m.SeenBy.Add(userID)
}

// SeenByUser reports whether userID already acknowledged this message.
func (m *Message) SeenByUser(userID string) bool {
	return m.SeenBy != nil && m.SeenBy.Contains(userID)
}

type messageWire struct {
	ID        string         `json:"_id,omitempty"`
	TempID    string         `json:"tempId,omitempty"`
	RoomID    string         `json:"roomId"`
	Sender    User           `json:"sender"`
	Content   string         `json:"content,omitempty"`
	Reply     *ReplySnapshot `json:"replyTo,omitempty"`
	Media     *Attachment    `json:"media,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Deleted   bool           `json:"deleted,omitempty"`
	SeenBy    []string       `json:"seenBy,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{
		ID:        m.ID,
		TempID:    m.TempID,
		RoomID:    m.RoomID,
		Sender:    m.Sender,
		Content:   m.Content,
		Reply:     m.Reply,
		Media:     m.Media,
		Timestamp: m.Timestamp,
		Deleted:   m.Deleted,
	}
	if m.SeenBy != nil {
		w.SeenBy = mapset.Sorted(m.SeenBy)
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		ID:        w.ID,
		TempID:    w.TempID,
		RoomID:    w.RoomID,
		Sender:    w.Sender,
		Content:   w.Content,
		Reply:     w.Reply,
		Media:     w.Media,
		Timestamp: w.Timestamp,
		Deleted:   w.Deleted,
		Status:    StatusSent,
		SeenBy:    mapset.NewSet(w.SeenBy...),
	}
	return nil
}

// Room is one entry of the conversation list screen.
type Room struct {
	ID          string `json:"_id"`
	User1       User   `json:"user1_id"`
	User2       User   `json:"user2_id"`
	LastMessage string `json:"lastMessage,omitempty"`
	UnreadCount int    `json:"unreadCount,omitempty"`
}

// Other returns the participant that is not userID.
func (r Room) Other(userID string) User {
	if r.User1.ID == userID {
		return r.User2
	}
	return r.User1
}
