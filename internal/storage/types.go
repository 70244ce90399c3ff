package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBSession is the client-side session state that must survive a process
// restart: the opaque credential, the local user, and the room the client
// was last active in.
type DBSession struct {
	Token        string `msgpack:"token"`
	UserID       string `msgpack:"userId"`
	ActiveChatID string `msgpack:"activeChatId"`
}

func (s *DBSession) Key() []byte {
	return []byte("session")
}

func (s *DBSession) MarshalBinary() (data []byte, err error) {
	type alias DBSession
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSession) UnmarshalBinary(data []byte) error {
	type alias DBSession
	return msgpack.Unmarshal(data, (*alias)(s))
}

// DBRoom caches one conversation-list entry so the room screen has content
// before the first fetch completes.
type DBRoom struct {
	ID          string `msgpack:"id"`
	PeerID      string `msgpack:"peerId"`
	PeerName    string `msgpack:"peerName"`
	LastMessage string `msgpack:"lastMessage"`
	UnreadCount int    `msgpack:"unreadCount"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}
