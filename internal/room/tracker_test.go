package room

import (
	"errors"
	"testing"

	"github.com/kingofdead6/aetherchat/internal/protocol"
)

type fakeConn struct {
	intents   []string // enqueued join payloads, in order
	connectFn []func()
}

func (c *fakeConn) Enqueue(event string, payload any) {
	if event != protocol.EventJoinChat {
		return
	}
	if roomID, ok := payload.(string); ok {
		c.intents = append(c.intents, roomID)
	}
}

func (c *fakeConn) OnConnect(fn func()) {
	c.connectFn = append(c.connectFn, fn)
}

func (c *fakeConn) fireConnect() {
	for _, fn := range c.connectFn {
		fn()
	}
}

type fakeStore struct {
	active  string
	saveErr error
	loadErr error
}

func (s *fakeStore) SaveActiveRoom(roomID string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.active = roomID
	return nil
}

func (s *fakeStore) ActiveRoom() (string, error) {
	return s.active, s.loadErr
}

func TestSetActiveRoomPersistsAndJoins(t *testing.T) {
	conn := &fakeConn{}
	store := &fakeStore{}

	tracker, err := NewTracker(conn, store)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	if err := tracker.SetActiveRoom("room1"); err != nil {
		t.Fatalf("SetActiveRoom: %v", err)
	}

	if store.active != "room1" {
		t.Errorf("persisted room = %q, want room1", store.active)
	}
	if len(conn.intents) != 1 || conn.intents[0] != "room1" {
		t.Errorf("join intents = %v, want [room1]", conn.intents)
	}
	if tracker.ActiveRoom() != "room1" {
		t.Errorf("ActiveRoom = %q", tracker.ActiveRoom())
	}
}

func TestRejoinOnEveryReconnect(t *testing.T) {
	conn := &fakeConn{}
	store := &fakeStore{}

	tracker, err := NewTracker(conn, store)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	if err := tracker.SetActiveRoom("room1"); err != nil {
		t.Fatalf("SetActiveRoom: %v", err)
	}

	conn.fireConnect()
	conn.fireConnect()

	// One join from SetActiveRoom plus exactly one per connected transition.
	if len(conn.intents) != 3 {
		t.Errorf("join intents = %v, want 3 joins", conn.intents)
	}
}

func TestRejoinSkippedWithoutActiveRoom(t *testing.T) {
	conn := &fakeConn{}
	store := &fakeStore{}

	if _, err := NewTracker(conn, store); err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	conn.fireConnect()
	if len(conn.intents) != 0 {
		t.Errorf("join intents = %v, want none", conn.intents)
	}
}

func TestPersistedRoomRestoredOnStartup(t *testing.T) {
	conn := &fakeConn{}
	store := &fakeStore{active: "room7"}

	tracker, err := NewTracker(conn, store)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	if tracker.ActiveRoom() != "room7" {
		t.Errorf("ActiveRoom = %q, want room7", tracker.ActiveRoom())
	}

	conn.fireConnect()
	if len(conn.intents) != 1 || conn.intents[0] != "room7" {
		t.Errorf("join intents = %v, want [room7]", conn.intents)
	}
}

func TestSwitchRoomSupersedesPrevious(t *testing.T) {
	conn := &fakeConn{}
	store := &fakeStore{}

	tracker, err := NewTracker(conn, store)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	_ = tracker.SetActiveRoom("room1")
	_ = tracker.SetActiveRoom("room2")

	conn.fireConnect()

	// The reconnect joins only the latest room.
	if conn.intents[len(conn.intents)-1] != "room2" {
		t.Errorf("join intents = %v, last should be room2", conn.intents)
	}
	if store.active != "room2" {
		t.Errorf("persisted room = %q, want room2", store.active)
	}
}

func TestPersistFailureSurfaces(t *testing.T) {
	conn := &fakeConn{}
	store := &fakeStore{saveErr: errors.New("disk full")}

	tracker, err := NewTracker(conn, store)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	if err := tracker.SetActiveRoom("room1"); err == nil {
		t.Error("expected error when persistence fails")
	}
}

func TestLoadFailureSurfaces(t *testing.T) {
	conn := &fakeConn{}
	store := &fakeStore{loadErr: errors.New("corrupt db")}

	if _, err := NewTracker(conn, store); err == nil {
		t.Error("expected error when the stored room cannot be read")
	}
}
