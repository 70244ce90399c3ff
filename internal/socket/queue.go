package socket

import (
	"log"
	"time"

	"github.com/kingofdead6/aetherchat/internal/metrics"
	"github.com/kingofdead6/aetherchat/internal/protocol"
)

// Intent is one outbound event waiting for a live transport. Emission is
// fire-and-forget: the intent is gone once written.
type Intent struct {
	Event      string
	Payload    any
	EnqueuedAt time.Time
}

// Enqueue appends the intent to the outbound queue and immediately attempts
// a drain. While disconnected the intent stays queued; the queue drains in
// strict enqueue order on the next connected transition, before anything
// enqueued afterwards. A transport failure mid-drain surfaces through the
// status signal and arms the reconnect loop, like a read-loop error does.
func (s *Session) Enqueue(event string, payload any) {
	s.mu.Lock()
	s.queue = append(s.queue, Intent{
		Event:      event,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	})
	err := s.drainLocked()
	ctx := s.runCtx
	s.mu.Unlock()

	if err != nil {
		s.setStatus(StateDisconnected, "disconnected: "+err.Error()+", reconnecting")
		s.scheduleReconnect(ctx)
	}
}

// QueueLen returns the number of intents waiting for a connection.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// drainLocked writes queued intents in FIFO order while the transport is
// connected. A transport write failure drops the connection and returns the
// error, leaving the failed intent at the head so the drain after the next
// reconnect retries it. Callers hold s.mu.
func (s *Session) drainLocked() error {
	defer func() { metrics.QueueDepth.Set(float64(len(s.queue))) }()

	for len(s.queue) > 0 {
		if s.state != StateConnected || s.conn == nil {
			return nil
		}
		next := s.queue[0]
		env, err := protocol.NewEnvelope(next.Event, next.Payload)
		if err != nil {
			// Unmarshalable payload can never succeed, discard it.
			log.Printf("socket: discarding intent %q: %v", next.Event, err)
			s.queue = s.queue[1:]
			continue
		}
		if err := s.conn.WriteJSON(env); err != nil {
			s.dropConnLocked()
			return err
		}
		metrics.EventsTotal.WithLabelValues("out").Inc()
		s.queue = s.queue[1:]
	}
	return nil
}

func (s *Session) writeLocked(event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	if err := s.conn.WriteJSON(env); err != nil {
		return err
	}
	metrics.EventsTotal.WithLabelValues("out").Inc()
	return nil
}
