// Package typing tracks who is typing in the active room. Indicators
// self-expire after three seconds of silence, and outbound notifications
// are throttled to one per expiry window so holding a key down does not
// flood the broker.
package typing

import (
	"context"
	"time"

	"github.com/c-pro/geche"
	"github.com/kingofdead6/aetherchat/internal/protocol"
)

const Expiry = 3 * time.Second

type enqueuer interface {
	Enqueue(event string, payload any)
}

type Tracker struct {
	conn    enqueuer
	userID  string
	peers   geche.Geche[string, time.Time]
	lastOut geche.Geche[string, time.Time]
	now     func() time.Time
}

func NewTracker(ctx context.Context, conn enqueuer, userID string) *Tracker {
	return &Tracker{
		conn:    conn,
		userID:  userID,
		peers:   geche.NewMapTTLCache[string, time.Time](ctx, Expiry, time.Second),
		lastOut: geche.NewMapTTLCache[string, time.Time](ctx, Expiry, time.Second),
		now:     time.Now,
	}
}

// Observe records an inbound typing event for a remote user. Events for the
// local user are ignored.
func (t *Tracker) Observe(userID string) {
	if userID == "" || userID == t.userID {
		return
	}
	t.peers.Set(userID, t.now())
}

// IsTyping reports whether userID sent a typing event within the expiry
// window.
func (t *Tracker) IsTyping(userID string) bool {
	_, err := t.peers.Get(userID)
	return err == nil
}

// NotifyTyping tells the broker the local user is typing in roomID, at most
// once per expiry window.
func (t *Tracker) NotifyTyping(roomID string) {
	if _, err := t.lastOut.Get(roomID); err == nil {
		return
	}
	t.lastOut.Set(roomID, t.now())
	t.conn.Enqueue(protocol.EventTyping, protocol.TypingPayload{
		ChatID: roomID,
		UserID: t.userID,
	})
}
