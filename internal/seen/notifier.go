// Package seen batches and rate-limits the "mark seen" acknowledgements
// sent back over the realtime connection: at most one mark_messages_seen
// intent per flush window, plus a periodic sweep that re-scans currently
// visible messages for anything the event-driven path missed.
package seen

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kingofdead6/aetherchat/internal/models"
	"github.com/kingofdead6/aetherchat/internal/protocol"
)

const (
	FlushWindow   = 300 * time.Millisecond
	SweepInterval = time.Second
)

type enqueuer interface {
	Enqueue(event string, payload any)
}

type Config struct {
	Conn   enqueuer
	UserID string
	RoomID string

	// Unseen returns the ids of currently visible messages the local user
	// has not acknowledged; the sweep scans it.
	Unseen func() []string

	// Flush/sweep intervals default to the package constants.
	FlushWindow   time.Duration
	SweepInterval time.Duration
}

type Notifier struct {
	conn   enqueuer
	userID string
	roomID string
	unseen func() []string
	window time.Duration
	sweep  time.Duration

	mu      sync.Mutex
	pending mapset.Set[string]
	acked   mapset.Set[string]
	timer   *time.Timer
}

func New(config Config) *Notifier {
	if config.FlushWindow == 0 {
		config.FlushWindow = FlushWindow
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = SweepInterval
	}
	return &Notifier{
		conn:    config.Conn,
		userID:  config.UserID,
		roomID:  config.RoomID,
		unseen:  config.Unseen,
		window:  config.FlushWindow,
		sweep:   config.SweepInterval,
		pending: mapset.NewSet[string](),
		acked:   mapset.NewSet[string](),
	}
}

// MessageVisible reports that a message became visible to the local user.
// Own messages, unconfirmed messages and messages already acknowledged in
// this session are filtered out; the rest is batched for the next flush.
func (n *Notifier) MessageVisible(m models.Message) {
	if m.ID == "" || m.Sender.ID == n.userID || m.SeenByUser(n.userID) {
		return
	}
	n.add(m.ID)
}

// ObserveUnseen seeds the batch from an unseen_messages event: ids the
// server believes this client has not acknowledged yet.
func (n *Notifier) ObserveUnseen(messageIDs []string) {
	for _, id := range messageIDs {
		if id != "" {
			n.add(id)
		}
	}
}

func (n *Notifier) add(messageID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.acked.Contains(messageID) || !n.pending.Add(messageID) {
		return
	}
	if n.timer == nil {
		n.timer = time.AfterFunc(n.window, n.flush)
	}
}

// flush emits one mark_messages_seen intent for everything batched during
// the window. The intent funnels through the same queue as every other
// outbound event, so it survives a disconnect.
func (n *Notifier) flush() {
	n.mu.Lock()
	n.timer = nil
	if n.pending.Cardinality() == 0 {
		n.mu.Unlock()
		return
	}
	ids := mapset.Sorted(n.pending)
	n.acked = n.acked.Union(n.pending)
	n.pending = mapset.NewSet[string]()
	n.mu.Unlock()

	n.conn.Enqueue(protocol.EventMarkSeen, protocol.MarkSeenPayload{
		ChatID:     n.roomID,
		MessageIDs: ids,
	})
}

// Run drives the periodic sweep until the context is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.unseen == nil {
				continue
			}
			for _, id := range n.unseen() {
				n.add(id)
			}
		}
	}
}
