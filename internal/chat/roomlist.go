package chat

import (
	"context"
	"sync"

	"github.com/kingofdead6/aetherchat/internal/models"
)

type roomLister interface {
	Rooms(ctx context.Context) ([]models.Room, error)
}

// RoomList is the conversation-list view: rooms ordered by recency, with a
// last-message preview and an unread counter per room.
type RoomList struct {
	api    roomLister
	userID string

	mu     sync.Mutex
	rooms  []models.Room
	errMsg string
}

func NewRoomList(api roomLister, userID string) *RoomList {
	return &RoomList{api: api, userID: userID}
}

// Reload replaces the list wholesale from the server.
func (l *RoomList) Reload(ctx context.Context) error {
	rooms, err := l.api.Rooms(ctx)
	if err != nil {
		l.mu.Lock()
		l.errMsg = "failed to fetch chats: " + err.Error()
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.rooms = rooms
	l.errMsg = ""
	l.mu.Unlock()
	return nil
}

// ApplyLivePush bumps the message's room to the front of the list, updates
// its preview, and increments the unread counter unless the local user sent
// it. A push for an unknown room inserts a new entry at the front.
func (l *RoomList) ApplyLivePush(m models.Message) {
	preview := m.Content
	if preview == "" && m.Media != nil {
		preview = "Media"
	}
	fromSelf := m.Sender.ID == l.userID

	l.mu.Lock()
	defer l.mu.Unlock()

	for i, room := range l.rooms {
		if room.ID != m.RoomID {
			continue
		}
		room.LastMessage = preview
		if !fromSelf {
			room.UnreadCount++
		}
		l.rooms = append(l.rooms[:i], l.rooms[i+1:]...)
		l.rooms = append([]models.Room{room}, l.rooms...)
		return
	}

	room := models.Room{
		ID:          m.RoomID,
		User1:       models.User{ID: l.userID},
		User2:       m.Sender,
		LastMessage: preview,
	}
	if !fromSelf {
		room.UnreadCount = 1
	}
	l.rooms = append([]models.Room{room}, l.rooms...)
}

// MarkRead clears the unread counter of a room, typically when it becomes
// the active one.
func (l *RoomList) MarkRead(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.rooms {
		if l.rooms[i].ID == roomID {
			l.rooms[i].UnreadCount = 0
			return
		}
	}
}

// Rooms returns a snapshot of the ordered list.
func (l *RoomList) Rooms() []models.Room {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Room, len(l.rooms))
	copy(out, l.rooms)
	return out
}

// Error returns the list-level error message, empty when none.
func (l *RoomList) Error() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errMsg
}
