package socket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kingofdead6/aetherchat/internal/metrics"
	"github.com/kingofdead6/aetherchat/internal/protocol"
)

type fakeConn struct {
	mu       sync.Mutex
	writes   []protocol.Envelope
	failFrom int // fail writes once len(writes) reaches this, 0 = never

	readCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFrom > 0 && len(c.writes) >= c.failFrom {
		return errors.New("broken pipe")
	}
	env, ok := v.(protocol.Envelope)
	if !ok {
		return errors.New("unexpected write type")
	}
	c.writes = append(c.writes, env)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.readCh:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, env := range c.writes {
		out[i] = env.Event
	}
	return out
}

// fakeDialer scripts a sequence of dial outcomes and hands out fresh conns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int // dials that error before one succeeds
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) dial(ctx context.Context, url string, header http.Header) (wsConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestSession(d *fakeDialer) *Session {
	return New(Config{
		URL:          "wss://test/socket",
		Token:        "tok",
		UserID:       "u1",
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Dial:         d.dial,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectRegistersThenDrainsInOrder(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	// Intents queued before any connection exists.
	s.Enqueue(protocol.EventJoinChat, "room1")
	s.Enqueue(protocol.EventTyping, protocol.TypingPayload{ChatID: "room1", UserID: "u1"})
	if s.QueueLen() != 2 {
		t.Fatalf("QueueLen = %d, want 2", s.QueueLen())
	}

	s.Connect(context.Background())

	conn := d.lastConn()
	if conn == nil {
		t.Fatal("no connection dialed")
	}
	want := []string{protocol.EventRegister, protocol.EventJoinChat, protocol.EventTyping}
	got := conn.events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if s.QueueLen() != 0 {
		t.Errorf("QueueLen = %d after drain, want 0", s.QueueLen())
	}
	if s.State() != StateConnected {
		t.Errorf("State = %q, want %q", s.State(), StateConnected)
	}
}

func TestEnqueueWhileConnectedWritesImmediately(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	s.Connect(context.Background())

	s.Enqueue(protocol.EventJoinChat, "room2")

	conn := d.lastConn()
	events := conn.events()
	if len(events) != 2 || events[1] != protocol.EventJoinChat {
		t.Errorf("events = %v", events)
	}
	if s.QueueLen() != 0 {
		t.Errorf("QueueLen = %d, want 0", s.QueueLen())
	}
}

func TestConnectWithoutToken(t *testing.T) {
	d := &fakeDialer{}
	s := New(Config{URL: "wss://test/socket", UserID: "u1", Dial: d.dial})

	var mu sync.Mutex
	var last Status
	s.OnStatus(func(st Status) {
		mu.Lock()
		last = st
		mu.Unlock()
	})

	s.Connect(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if last.State != StateDisconnected {
		t.Errorf("State = %q, want %q", last.State, StateDisconnected)
	}
	if last.Reason != "no authentication token available, please log in" {
		t.Errorf("Reason = %q", last.Reason)
	}
	if d.dialCount() != 0 {
		t.Errorf("dialed %d times without a token", d.dialCount())
	}
}

func TestConcurrentConnectCollapses(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Connect(context.Background())
		}()
	}
	wg.Wait()

	if d.dialCount() != 1 {
		t.Errorf("dialed %d times, want 1", d.dialCount())
	}
}

func TestReadErrorReconnectsAndRedrains(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	s.Connect(context.Background())

	first := d.lastConn()

	// Simulate the transport dropping.
	_ = first.Close()
	waitFor(t, "reconnect", func() bool { return d.dialCount() == 2 && s.State() == StateConnected })

	second := d.lastConn()
	if second == first {
		t.Fatal("expected a fresh connection")
	}
	events := second.events()
	if len(events) == 0 || events[0] != protocol.EventRegister {
		t.Errorf("reconnect did not re-register: %v", events)
	}

	// Intents enqueued on the new connection go out exactly once.
	s.Enqueue(protocol.EventJoinChat, "room1")
	events = second.events()
	if n := countEvent(events, protocol.EventJoinChat); n != 1 {
		t.Errorf("join sent %d times, want 1", n)
	}
}

func TestWriteFailureSurfacesAndReconnects(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	var mu sync.Mutex
	var reasons []string
	s.OnStatus(func(st Status) {
		mu.Lock()
		if st.State == StateDisconnected && st.Reason != "" {
			reasons = append(reasons, st.Reason)
		}
		mu.Unlock()
	})

	s.Connect(context.Background())
	first := d.lastConn()

	// Fail the next write so the intent stays at the head of the queue.
	first.mu.Lock()
	first.failFrom = 1
	first.mu.Unlock()

	s.Enqueue(protocol.EventJoinChat, "room1")

	// The failure must surface through the status signal and redial on
	// its own, like a read-loop error does.
	mu.Lock()
	if len(reasons) == 0 {
		mu.Unlock()
		t.Fatal("no disconnected status surfaced for the write failure")
	}
	mu.Unlock()

	// Another intent queued while the transport is down.
	s.Enqueue(protocol.EventTyping, protocol.TypingPayload{ChatID: "room1", UserID: "u1"})

	waitFor(t, "auto-redial and redrain", func() bool {
		return d.dialCount() == 2 && s.QueueLen() == 0
	})

	second := d.lastConn()
	events := second.events()
	want := []string{protocol.EventRegister, protocol.EventJoinChat, protocol.EventTyping}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
	if s.State() != StateConnected {
		t.Errorf("State = %q, want connected after recovery", s.State())
	}
}

func TestQueueDepthGaugeTracksDrain(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	s.Enqueue(protocol.EventJoinChat, "room1")
	s.Enqueue(protocol.EventTyping, protocol.TypingPayload{ChatID: "room1", UserID: "u1"})
	if got := testutil.ToFloat64(metrics.QueueDepth); got != 2 {
		t.Fatalf("QueueDepth = %v, want 2 while disconnected", got)
	}

	// The drain on connect must bring the gauge down without another
	// enqueue happening.
	s.Connect(context.Background())
	if got := testutil.ToFloat64(metrics.QueueDepth); got != 0 {
		t.Errorf("QueueDepth = %v, want 0 after drain", got)
	}
}

func TestDisconnectSuspendsAndKeepsQueue(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)
	s.Connect(context.Background())

	s.Disconnect()
	if s.State() != StateDisconnected {
		t.Fatalf("State = %q, want disconnected", s.State())
	}

	s.Enqueue(protocol.EventJoinChat, "room1")
	time.Sleep(50 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("dialed %d times, reconnect should be suspended", d.dialCount())
	}
	if s.QueueLen() != 1 {
		t.Errorf("QueueLen = %d, want 1", s.QueueLen())
	}

	s.Connect(context.Background())
	waitFor(t, "drain after resume", func() bool { return s.QueueLen() == 0 })
}

func TestReconnectExhaustion(t *testing.T) {
	d := &fakeDialer{failures: 100}
	s := newTestSession(d)

	statusCh := make(chan Status, 32)
	s.OnStatus(func(st Status) { statusCh <- st })

	s.Connect(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-statusCh:
			if st.Reason == "reconnect attempts exhausted, manual reconnect required" {
				// 1 initial dial + MaxAttempts retries.
				if d.dialCount() != 4 {
					t.Errorf("dialed %d times, want 4", d.dialCount())
				}
				return
			}
		case <-deadline:
			t.Fatal("never reported exhaustion")
		}
	}
}

func TestDispatchRoutesTypedPayloads(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	got := make(chan protocol.MessageSeenPayload, 1)
	s.On(protocol.EventMessageSeen, func(payload any) {
		if p, ok := payload.(protocol.MessageSeenPayload); ok {
			got <- p
		}
	})

	s.Connect(context.Background())
	conn := d.lastConn()
	conn.readCh <- []byte(`{"event":"message_seen","data":{"messageId":"m1","userId":"u2"}}`)

	select {
	case p := <-got:
		if p.MessageID != "m1" || p.UserID != "u2" {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestDispatchDropsMalformedFrames(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	called := make(chan struct{}, 1)
	s.On(protocol.EventMessageSeen, func(any) { called <- struct{}{} })

	s.Connect(context.Background())
	conn := d.lastConn()
	conn.readCh <- []byte(`{"event":"message_seen","data":{"messageId":""}}`)
	conn.readCh <- []byte(`not json at all`)
	conn.readCh <- []byte(`{"event":"message_seen","data":{"messageId":"m9","userId":"u2"}}`)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("valid frame after malformed ones was not dispatched")
	}
	select {
	case <-called:
		t.Error("malformed frame reached the handler")
	default:
	}

	if s.State() != StateConnected {
		t.Errorf("State = %q, malformed frames must not drop the connection", s.State())
	}
}

func TestServerErrorEventFeedsStatus(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(d)

	statusCh := make(chan Status, 8)
	s.OnStatus(func(st Status) { statusCh <- st })

	s.Connect(context.Background())
	conn := d.lastConn()
	conn.readCh <- []byte(`{"event":"error","data":{"message":"room is closed"}}`)

	deadline := time.After(time.Second)
	for {
		select {
		case st := <-statusCh:
			if st.Reason == "room is closed" {
				if st.State != StateConnected {
					t.Errorf("State = %q, want connected", st.State)
				}
				return
			}
		case <-deadline:
			t.Fatal("error event never surfaced as status")
		}
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt, time.Second, 5*time.Second); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func countEvent(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}
