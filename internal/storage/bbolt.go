package storage

import (
	"fmt"
	"time"

	"github.com/kingofdead6/aetherchat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketSession = []byte("session")
	bucketRooms   = []byte("rooms")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSession); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketRooms); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveSession stores the current session state, replacing any previous one.
func (s *BboltStorage) SaveSession(session DBSession) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)
		data, err := session.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(session.Key(), data)
	})
}

// LoadSession returns the persisted session state, or models.ErrNotFound if
// no session has been saved yet.
func (s *BboltStorage) LoadSession() (DBSession, error) {
	var session DBSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)
		data := b.Get(session.Key())
		if data == nil {
			return models.ErrNotFound
		}
		return session.UnmarshalBinary(data)
	})
	return session, err
}

// SaveActiveRoom updates only the active-room identifier of the persisted
// session, creating the session record if it does not exist.
func (s *BboltStorage) SaveActiveRoom(roomID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)
		var session DBSession
		if data := b.Get(session.Key()); data != nil {
			if err := session.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
		}
		session.ActiveChatID = roomID
		data, err := session.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(session.Key(), data)
	})
}

// ActiveRoom returns the persisted active-room identifier, empty when none
// was ever set.
func (s *BboltStorage) ActiveRoom() (string, error) {
	session, err := s.LoadSession()
	if err != nil {
		if err == models.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return session.ActiveChatID, nil
}

// ClearSession removes the persisted session state on sign-out. The room
// cache is dropped with it.
func (s *BboltStorage) ClearSession() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		var session DBSession
		if err := tx.Bucket(bucketSession).Delete(session.Key()); err != nil {
			return err
		}
		if err := tx.DeleteBucket(bucketRooms); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketRooms)
		return err
	})
}

// UpsertRoom saves one conversation-list entry.
func (s *BboltStorage) UpsertRoom(room DBRoom) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		data, err := room.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(room.Key(), data)
	})
}

// ListRooms returns all cached conversation-list entries.
func (s *BboltStorage) ListRooms() ([]DBRoom, error) {
	var rooms []DBRoom
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		return b.ForEach(func(k, v []byte) error {
			var room DBRoom
			if err := room.UnmarshalBinary(v); err != nil {
				return err
			}
			rooms = append(rooms, room)
			return nil
		})
	})
	return rooms, err
}
