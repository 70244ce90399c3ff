// Package room tracks which conversation the client is active in and
// recovers its membership after every reconnect, since the broker forgets
// joins on disconnect.
package room

import (
	"fmt"
	"sync"

	"github.com/kingofdead6/aetherchat/internal/protocol"
)

// enqueuer is the connection-manager surface the tracker needs.
type enqueuer interface {
	Enqueue(event string, payload any)
	OnConnect(fn func())
}

// store persists the active room across process restarts.
type store interface {
	SaveActiveRoom(roomID string) error
	ActiveRoom() (string, error)
}

type Tracker struct {
	conn  enqueuer
	store store

	mu     sync.Mutex
	active string
}

// NewTracker loads the persisted active room and arms the rejoin hook:
// whenever the connection comes up while a room is active, exactly one join
// intent for it is enqueued.
func NewTracker(conn enqueuer, store store) (*Tracker, error) {
	active, err := store.ActiveRoom()
	if err != nil {
		return nil, fmt.Errorf("failed to load active room: %w", err)
	}

	t := &Tracker{conn: conn, store: store, active: active}
	conn.OnConnect(t.rejoin)
	return t, nil
}

// SetActiveRoom records roomID as the active conversation, persists it, and
// enqueues a join intent. Joining a new room supersedes the previous one
// server-side; no leave is sent.
func (t *Tracker) SetActiveRoom(roomID string) error {
	t.mu.Lock()
	t.active = roomID
	t.mu.Unlock()

	if err := t.store.SaveActiveRoom(roomID); err != nil {
		return fmt.Errorf("failed to persist active room: %w", err)
	}
	t.conn.Enqueue(protocol.EventJoinChat, roomID)
	return nil
}

// ActiveRoom returns the currently-active room identifier, or empty.
func (t *Tracker) ActiveRoom() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Tracker) rejoin() {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()

	if active != "" {
		t.conn.Enqueue(protocol.EventJoinChat, active)
	}
}
