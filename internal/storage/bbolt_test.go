package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kingofdead6/aetherchat/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	s, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBboltStorage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundtrip(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.LoadSession(); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("LoadSession on empty db = %v, want ErrNotFound", err)
	}

	in := DBSession{Token: "tok", UserID: "u1", ActiveChatID: "r1"}
	if err := s.SaveSession(in); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	out, err := s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if out != in {
		t.Errorf("LoadSession = %+v, want %+v", out, in)
	}
}

func TestActiveRoom(t *testing.T) {
	s := newTestStorage(t)

	room, err := s.ActiveRoom()
	if err != nil || room != "" {
		t.Fatalf("ActiveRoom on empty db = %q, %v", room, err)
	}

	// SaveActiveRoom works even before any session was saved.
	if err := s.SaveActiveRoom("r1"); err != nil {
		t.Fatalf("SaveActiveRoom: %v", err)
	}
	room, err = s.ActiveRoom()
	if err != nil || room != "r1" {
		t.Fatalf("ActiveRoom = %q, %v", room, err)
	}

	// It must not clobber the rest of the session.
	if err := s.SaveSession(DBSession{Token: "tok", UserID: "u1", ActiveChatID: "r1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveActiveRoom("r2"); err != nil {
		t.Fatalf("SaveActiveRoom: %v", err)
	}
	session, err := s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if session.Token != "tok" || session.ActiveChatID != "r2" {
		t.Errorf("session = %+v", session)
	}
}

func TestClearSession(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SaveSession(DBSession{Token: "tok", UserID: "u1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.UpsertRoom(DBRoom{ID: "r1", PeerName: "Bea"}); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}

	if err := s.ClearSession(); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}

	if _, err := s.LoadSession(); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("LoadSession after clear = %v, want ErrNotFound", err)
	}
	rooms, err := s.ListRooms()
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("rooms = %v, want empty after clear", rooms)
	}
}

func TestRoomCache(t *testing.T) {
	s := newTestStorage(t)

	rooms := []DBRoom{
		{ID: "r1", PeerID: "u2", PeerName: "Bea", LastMessage: "hey", UnreadCount: 2},
		{ID: "r2", PeerID: "u3", PeerName: "Cal", LastMessage: "yo"},
	}
	for _, r := range rooms {
		if err := s.UpsertRoom(r); err != nil {
			t.Fatalf("UpsertRoom: %v", err)
		}
	}

	// Upsert replaces in place.
	if err := s.UpsertRoom(DBRoom{ID: "r1", PeerID: "u2", PeerName: "Bea", LastMessage: "newer", UnreadCount: 3}); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}

	got, err := s.ListRooms()
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListRooms = %v, want 2 entries", got)
	}
	byID := map[string]DBRoom{}
	for _, r := range got {
		byID[r.ID] = r
	}
	if byID["r1"].LastMessage != "newer" || byID["r1"].UnreadCount != 3 {
		t.Errorf("r1 = %+v", byID["r1"])
	}
	if byID["r2"].PeerName != "Cal" {
		t.Errorf("r2 = %+v", byID["r2"])
	}
}
