package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kingofdead6/aetherchat/internal/api"
	"github.com/kingofdead6/aetherchat/internal/chat"
	"github.com/kingofdead6/aetherchat/internal/config"
	"github.com/kingofdead6/aetherchat/internal/filestore"
	"github.com/kingofdead6/aetherchat/internal/metrics"
	"github.com/kingofdead6/aetherchat/internal/models"
	"github.com/kingofdead6/aetherchat/internal/protocol"
	"github.com/kingofdead6/aetherchat/internal/room"
	"github.com/kingofdead6/aetherchat/internal/seen"
	"github.com/kingofdead6/aetherchat/internal/socket"
	"github.com/kingofdead6/aetherchat/internal/storage"
	"github.com/kingofdead6/aetherchat/internal/typing"

	"golang.org/x/sync/errgroup"
)

// client bundles the per-session pieces plus the per-room ones that get
// swapped when the user changes rooms.
type client struct {
	cfg     *config.Config
	store   *storage.BboltStorage
	apiC    *api.Client
	media   *filestore.LocalMediaCache
	conn    *socket.Session
	tracker *room.Tracker
	rooms   *chat.RoomList
	typing  *typing.Tracker
	userID  string

	engine   *chat.Engine
	notifier *seen.Notifier
	sweep    context.CancelFunc
}

func run(ctx context.Context) error {
	logout := flag.Bool("logout", false, "Clear the stored session and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if *logout {
		return store.ClearSession()
	}

	session, err := loadSession(store)
	if err != nil {
		return err
	}

	media, err := filestore.NewLocalMediaCache(cfg.MediaDir)
	if err != nil {
		return err
	}

	c := &client{
		cfg:    cfg,
		store:  store,
		apiC:   api.NewClient(cfg.APIBaseURL, session.Token),
		media:  media,
		userID: session.UserID,
	}

	c.conn = socket.New(socket.Config{
		URL:          cfg.SocketURL,
		Token:        session.Token,
		UserID:       session.UserID,
		MaxAttempts:  cfg.ReconnectAttempts,
		InitialDelay: cfg.ReconnectDelay,
		MaxDelay:     cfg.ReconnectMaxDelay,
	})
	c.conn.OnStatus(func(st socket.Status) {
		if st.Reason != "" {
			fmt.Printf("[%s] %s\n", st.State, st.Reason)
		}
	})

	c.tracker, err = room.NewTracker(c.conn, store)
	if err != nil {
		return err
	}

	c.rooms = chat.NewRoomList(c.apiC, session.UserID)
	c.typing = typing.NewTracker(ctx, c.conn, session.UserID)
	c.conn.On(protocol.EventTyping, func(payload any) {
		if p, ok := payload.(protocol.TypingPayload); ok {
			c.typing.Observe(p.UserID)
		}
	})

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		g.Go(func() error {
			err := srv.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	c.conn.Connect(gCtx)
	if err := c.rooms.Reload(gCtx); err != nil {
		// The cached list from the previous run keeps the screen usable.
		log.Printf("room list unavailable, showing cached rooms: %v", err)
		c.printCachedRooms()
	} else {
		c.cacheRooms()
	}
	if active := c.tracker.ActiveRoom(); active != "" {
		if err := c.openRoom(gCtx, active); err != nil {
			log.Printf("failed to reopen room %s: %v", active, err)
		}
	}

	g.Go(func() error {
		return c.inputLoop(gCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		c.conn.Disconnect()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// loadSession reads the persisted session, letting AETHER_TOKEN and
// AETHER_USER_ID override and re-persist it for subsequent runs.
func loadSession(store *storage.BboltStorage) (storage.DBSession, error) {
	token := os.Getenv("AETHER_TOKEN")
	userID := os.Getenv("AETHER_USER_ID")
	if token != "" && userID != "" {
		session := storage.DBSession{Token: token, UserID: userID}
		if err := store.SaveSession(session); err != nil {
			return storage.DBSession{}, err
		}
		return session, nil
	}

	session, err := store.LoadSession()
	if errors.Is(err, models.ErrNotFound) {
		// Connect still runs so the missing-credential status surfaces,
		// matching the token-less startup flow.
		return storage.DBSession{}, nil
	}
	return session, err
}

var errQuit = errors.New("quit")

func (c *client) inputLoop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: /rooms /room <id> /messages /edit <id> <text> /delete <id> /save <id> /reconnect /quit")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.handleLine(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return err
			}
			fmt.Println("error:", err)
		}
	}
	return scanner.Err()
}

func (c *client) handleLine(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return c.sendMessage(ctx, line)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit":
		return errQuit
	case "/reconnect":
		c.conn.Reconnect(ctx)
		return nil
	case "/rooms":
		if err := c.rooms.Reload(ctx); err != nil {
			return err
		}
		c.cacheRooms()
		for _, r := range c.rooms.Rooms() {
			peer := r.Other(c.userID)
			fmt.Printf("%s  %s  unread=%d  %s\n", r.ID, peer.Name, r.UnreadCount, r.LastMessage)
		}
		return nil
	case "/room":
		if rest == "" {
			return errors.New("usage: /room <id>")
		}
		return c.openRoom(ctx, rest)
	case "/messages":
		if c.engine == nil {
			return errors.New("no active room, use /room <id>")
		}
		for _, m := range c.engine.Messages() {
			printMessage(m)
		}
		return nil
	case "/edit":
		if c.engine == nil {
			return errors.New("no active room")
		}
		id, text, ok := strings.Cut(rest, " ")
		if !ok || id == "" || strings.TrimSpace(text) == "" {
			return errors.New("usage: /edit <id> <text>")
		}
		return c.engine.EditMessage(ctx, id, strings.TrimSpace(text), c.conn)
	case "/delete":
		if c.engine == nil {
			return errors.New("no active room")
		}
		if rest == "" {
			return errors.New("usage: /delete <id>")
		}
		return c.engine.DeleteMessage(ctx, rest, c.conn)
	case "/save":
		if c.engine == nil {
			return errors.New("no active room")
		}
		if rest == "" {
			return errors.New("usage: /save <id>")
		}
		return c.saveMedia(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *client) sendMessage(ctx context.Context, body string) error {
	if c.engine == nil {
		return errors.New("no active room, use /room <id>")
	}
	c.typing.NotifyTyping(c.engine.RoomID())
	_, err := c.engine.Send(ctx, body, nil, "")
	return err
}

// openRoom swaps the per-room machinery: a fresh reconciliation engine and
// seen notifier for roomID, with handlers rebound and the previous sweep
// stopped.
func (c *client) openRoom(ctx context.Context, roomID string) error {
	if c.sweep != nil {
		c.sweep()
		c.sweep = nil
	}

	engine := chat.New(chat.Config{
		API:    c.apiC,
		UserID: c.userID,
		RoomID: roomID,
	})
	engine.Attach(c.conn)

	notifier := seen.New(seen.Config{
		Conn:   c.conn,
		UserID: c.userID,
		RoomID: roomID,
		Unseen: func() []string { return engine.UnseenBy(c.userID) },
	})

	// Rebind receive_message so a push feeds every consumer, not only the
	// engine handler Attach installed.
	c.conn.On(protocol.EventReceiveMessage, func(payload any) {
		m, ok := payload.(models.Message)
		if !ok {
			return
		}
		engine.ReceiveLivePush(m)
		c.rooms.ApplyLivePush(m)
		if m.RoomID == "" || m.RoomID == roomID {
			notifier.MessageVisible(m)
			printMessage(m)
		}
	})
	c.conn.On(protocol.EventUnseenMessages, func(payload any) {
		if p, ok := payload.(protocol.UnseenMessagesPayload); ok {
			notifier.ObserveUnseen(p.MessageIDs)
		}
	})

	if err := c.tracker.SetActiveRoom(roomID); err != nil {
		return err
	}
	c.rooms.MarkRead(roomID)

	if err := engine.LoadHistory(ctx); err != nil {
		log.Printf("history unavailable for %s: %v", roomID, err)
	}
	for _, m := range engine.Messages() {
		notifier.MessageVisible(m)
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	go notifier.Run(sweepCtx)

	c.engine = engine
	c.notifier = notifier
	c.sweep = cancel
	return nil
}

// saveMedia downloads the attachment of a message into the local media
// cache and prints where it landed. Already-cached media is not re-fetched.
func (c *client) saveMedia(ctx context.Context, messageID string) error {
	var target *models.Message
	for _, m := range c.engine.Messages() {
		if m.ID == messageID {
			target = &m
			break
		}
	}
	if target == nil || target.Media == nil {
		return fmt.Errorf("message %s has no attachment", messageID)
	}

	key := filestore.Key(target.Media.URL)
	if f, err := c.media.Open(key); err == nil {
		_ = f.Close()
		fmt.Println("cached at", c.media.Path(key))
		return nil
	}

	body, err := c.apiC.Download(ctx, target.Media.URL)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := c.media.Save(body, key); err != nil {
		return err
	}
	fmt.Println("saved to", c.media.Path(key))
	return nil
}

// cacheRooms persists the current conversation list so the next startup has
// content before the first fetch completes.
func (c *client) cacheRooms() {
	for _, r := range c.rooms.Rooms() {
		peer := r.Other(c.userID)
		err := c.store.UpsertRoom(storage.DBRoom{
			ID:          r.ID,
			PeerID:      peer.ID,
			PeerName:    peer.Name,
			LastMessage: r.LastMessage,
			UnreadCount: r.UnreadCount,
		})
		if err != nil {
			log.Printf("failed to cache room %s: %v", r.ID, err)
			return
		}
	}
}

func (c *client) printCachedRooms() {
	cached, err := c.store.ListRooms()
	if err != nil {
		log.Printf("room cache unavailable: %v", err)
		return
	}
	for _, r := range cached {
		fmt.Printf("%s  %s  unread=%d  %s\n", r.ID, r.PeerName, r.UnreadCount, r.LastMessage)
	}
}

func printMessage(m models.Message) {
	when := m.Timestamp.Format("15:04:05")
	switch {
	case m.Deleted:
		fmt.Printf("%s  %s  <deleted>\n", when, m.Sender.Name)
	case m.Status == models.StatusSending:
		fmt.Printf("%s  %s  %s (sending)\n", when, m.Sender.Name, m.Content)
	default:
		body := m.Content
		if body == "" && m.Media != nil {
			body = "<media>"
		}
		fmt.Printf("%s  %s  %s\n", when, m.Sender.Name, body)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
