// Package chat maintains the ordered message view for the active room. It
// merges optimistic sends, server confirmations, live pushes, edits,
// deletions and seen receipts into one consistent list, keyed by durable
// identifier once the server assigns one and by correlation identifier
// before that.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kingofdead6/aetherchat/internal/api"
	"github.com/kingofdead6/aetherchat/internal/content"
	"github.com/kingofdead6/aetherchat/internal/metrics"
	"github.com/kingofdead6/aetherchat/internal/models"
	"github.com/kingofdead6/aetherchat/internal/protocol"
)

var ErrEmptyMessage = errors.New("message needs content or an attachment")

type apiClient interface {
	History(ctx context.Context, roomID string) ([]models.Message, error)
	Send(ctx context.Context, req api.SendRequest) (models.Message, error)
	Edit(ctx context.Context, roomID, messageID, content string) error
	Delete(ctx context.Context, roomID, messageID string) error
}

// transport is the realtime surface the engine needs: inbound event
// handlers and outbound intents.
type transport interface {
	On(event string, fn func(payload any))
	Enqueue(event string, payload any)
}

type Config struct {
	API    apiClient
	UserID string
	RoomID string

	// OnChange is invoked after every view mutation so the embedding view
	// layer can re-render. Optional.
	OnChange func()
}

type Engine struct {
	api      apiClient
	userID   string
	roomID   string
	onChange func()

	mu     sync.Mutex
	view   []*models.Message
	byKey  map[string]*models.Message
	errMsg string
}

func New(config Config) *Engine {
	return &Engine{
		api:      config.API,
		userID:   config.UserID,
		roomID:   config.RoomID,
		onChange: config.OnChange,
		byKey:    make(map[string]*models.Message),
	}
}

// Attach registers the engine's inbound event handlers on the realtime
// transport.
func (e *Engine) Attach(conn transport) {
	conn.On(protocol.EventReceiveMessage, func(payload any) {
		if m, ok := payload.(models.Message); ok {
			e.ReceiveLivePush(m)
		}
	})
	conn.On(protocol.EventMessageUpdated, func(payload any) {
		if m, ok := payload.(models.Message); ok {
			e.ApplyEdit(m.ID, m.Content)
		}
	})
	conn.On(protocol.EventMessageDeleted, func(payload any) {
		if m, ok := payload.(models.Message); ok {
			e.ApplyDeletion(m.ID)
		}
	})
	conn.On(protocol.EventMessageSeen, func(payload any) {
		if p, ok := payload.(protocol.MessageSeenPayload); ok {
			e.ApplySeenBy([]string{p.MessageID}, p.UserID)
		}
	})
	conn.On(protocol.EventMessagesSeen, func(payload any) {
		if p, ok := payload.(protocol.MessagesSeenPayload); ok {
			e.ApplySeenBy(p.MessageIDs, p.UserID)
		}
	})
	conn.On(protocol.EventMessageError, func(payload any) {
		if p, ok := payload.(protocol.MessageErrorPayload); ok {
			e.HandleSendError(p.TempID, p.Error)
		}
	})
}

// LoadHistory replaces the view wholesale with the room's server-side
// message list. A failure leaves the previous view untouched and surfaces
// as the room-level error.
func (e *Engine) LoadHistory(ctx context.Context) error {
	messages, err := e.api.History(ctx, e.roomID)
	if err != nil {
		e.setError("failed to load messages: " + err.Error())
		return err
	}

	e.mu.Lock()
	e.view = e.view[:0]
	e.byKey = make(map[string]*models.Message, len(messages))
	for i := range messages {
		m := messages[i]
		m.Content = content.Sanitize(m.Content)
		m.HTML = content.Render(m.Content)
		m.Status = models.StatusSent
		e.appendLocked(&m)
	}
	e.errMsg = ""
	e.mu.Unlock()

	e.notify()
	return nil
}

// Send appends an optimistic message to the end of the view, then submits
// it over the HTTP API carrying the correlation identifier. On confirmation
// the optimistic entry is mutated in place; on failure it is removed and
// the error surfaces at room level. Returns the correlation identifier.
func (e *Engine) Send(ctx context.Context, body string, attachment *api.AttachmentUpload, replyToID string) (string, error) {
	if body == "" && attachment == nil {
		return "", ErrEmptyMessage
	}

	tempID := uuid.NewString()
	body = content.Sanitize(body)

	optimistic := &models.Message{
		TempID:    tempID,
		RoomID:    e.roomID,
		Sender:    models.User{ID: e.userID},
		Content:   body,
		HTML:      content.Render(body),
		Timestamp: time.Now(),
		Status:    models.StatusSending,
		Reply:     e.replySnapshot(replyToID),
	}

	e.mu.Lock()
	e.appendLocked(optimistic)
	e.mu.Unlock()
	e.notify()

	start := time.Now()
	confirmed, err := e.api.Send(ctx, api.SendRequest{
		RoomID:     e.roomID,
		TempID:     tempID,
		Content:    body,
		ReplyToID:  replyToID,
		Attachment: attachment,
	})
	if err != nil {
		e.remove(tempID)
		e.setError("failed to send message: " + err.Error())
		return tempID, err
	}
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	confirmed.TempID = tempID
	e.merge(confirmed)
	return tempID, nil
}

// ReceiveLivePush merges a message pushed over the realtime transport. A
// message already present, matched by durable or correlation identifier, is
// updated in place; anything else is appended to the end of the view. This
// resolves the race where the sender's optimistic entry and the server's
// echoed push both exist.
func (e *Engine) ReceiveLivePush(m models.Message) {
	if m.RoomID != "" && m.RoomID != e.roomID {
		return
	}
	e.merge(m)
}

// ApplyEdit mutates a confirmed message's content in place. Unknown
// identifiers are a no-op; edits never target unconfirmed messages.
func (e *Engine) ApplyEdit(messageID, newContent string) {
	if messageID == "" {
		return
	}

	e.mu.Lock()
	m, ok := e.byKey[messageID]
	ok = ok && m.ID == messageID // durable identifier only
	if ok {
		m.Content = content.Sanitize(newContent)
		m.HTML = content.Render(m.Content)
	}
	e.mu.Unlock()

	if ok {
		e.notify()
	}
}

// ApplyDeletion soft-deletes a confirmed message: the entry keeps its
// position so reply references stay intact, but carries no displayable
// content anymore.
func (e *Engine) ApplyDeletion(messageID string) {
	if messageID == "" {
		return
	}

	e.mu.Lock()
	m, ok := e.byKey[messageID]
	ok = ok && m.ID == messageID
	if ok {
		m.Deleted = true
		m.Content = ""
		m.HTML = ""
		m.Media = nil
	}
	e.mu.Unlock()

	if ok {
		e.notify()
	}
}

// ApplySeenBy adds userID to the seen-by set of every matching message.
// Set semantics make repeated application a no-op.
func (e *Engine) ApplySeenBy(messageIDs []string, userID string) {
	if userID == "" {
		return
	}

	changed := false
	e.mu.Lock()
	for _, id := range messageIDs {
		if m, ok := e.byKey[id]; ok {
			if m.MarkSeen(userID) {
				changed = true
			}
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify()
	}
}

// HandleSendError removes exactly the optimistic message the broker
// reported a send failure for, and surfaces the reason at room level. A
// stale failure for an already-confirmed send is ignored; the correlation
// id stays indexed after confirmation, so the status guards the removal.
func (e *Engine) HandleSendError(tempID, reason string) {
	if tempID == "" {
		return
	}

	e.mu.Lock()
	m, ok := e.byKey[tempID]
	ok = ok && m.Status == models.StatusSending
	if ok {
		e.removeLocked(m)
	}
	e.mu.Unlock()

	if ok {
		if reason == "" {
			reason = "message could not be delivered"
		}
		e.setError(reason)
	}
}

// EditMessage submits an edit for a confirmed message over the HTTP API and
// notifies the broker so other participants receive the update.
func (e *Engine) EditMessage(ctx context.Context, messageID, newContent string, conn transport) error {
	if err := e.api.Edit(ctx, e.roomID, messageID, newContent); err != nil {
		e.setError("failed to edit message: " + err.Error())
		return err
	}
	e.ApplyEdit(messageID, newContent)
	conn.Enqueue(protocol.EventUpdateMessage, protocol.UpdateMessagePayload{
		ChatID:    e.roomID,
		MessageID: messageID,
		Content:   newContent,
	})
	return nil
}

// DeleteMessage soft-deletes a confirmed message over the HTTP API and
// notifies the broker.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string, conn transport) error {
	if err := e.api.Delete(ctx, e.roomID, messageID); err != nil {
		e.setError("failed to delete message: " + err.Error())
		return err
	}
	e.ApplyDeletion(messageID)
	conn.Enqueue(protocol.EventDeleteMessage, protocol.DeleteMessagePayload{
		ChatID:    e.roomID,
		MessageID: messageID,
	})
	return nil
}

// Messages returns a snapshot of the ordered view.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Message, len(e.view))
	for i, m := range e.view {
		out[i] = *m
	}
	return out
}

// UnseenBy returns the durable identifiers of confirmed messages that were
// not sent by userID and that userID has not acknowledged yet. The seen
// throttle sweeps it.
func (e *Engine) UnseenBy(userID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for _, m := range e.view {
		if m.ID == "" || m.Deleted || m.Sender.ID == userID || m.SeenByUser(userID) {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids
}

// RoomID returns the room this engine reconciles.
func (e *Engine) RoomID() string {
	return e.roomID
}

// Error returns the current room-level error message, empty when none.
func (e *Engine) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errMsg
}

// merge applies the merge-by-identifier rule: update in place when a
// matching entry exists, append otherwise.
func (e *Engine) merge(incoming models.Message) {
	incoming.Content = content.Sanitize(incoming.Content)

	e.mu.Lock()
	existing := e.lookupLocked(incoming)
	if existing != nil {
		mergeMessage(existing, incoming)
		e.indexLocked(existing)
	} else {
		m := incoming
		m.HTML = content.Render(m.Content)
		m.Status = models.StatusSent
		e.appendLocked(&m)
	}
	e.mu.Unlock()

	e.notify()
}

// mergeMessage folds incoming server state into an existing view entry,
// keeping the correlation identifier for late duplicate echoes and growing
// the seen-by set monotonically. Pure view-entry logic, no locking.
func mergeMessage(existing *models.Message, incoming models.Message) {
	if incoming.ID != "" {
		existing.ID = incoming.ID
	}
	if incoming.Content != "" || incoming.Deleted {
		existing.Content = incoming.Content
		existing.HTML = content.Render(incoming.Content)
	}
	if !incoming.Timestamp.IsZero() {
		existing.Timestamp = incoming.Timestamp
	}
	if incoming.Media != nil {
		existing.Media = incoming.Media
	}
	if incoming.Reply != nil {
		existing.Reply = incoming.Reply
	}
	if incoming.Sender.ID != "" {
		existing.Sender = incoming.Sender
	}
	if incoming.Deleted {
		existing.Deleted = true
		existing.Media = nil
		existing.HTML = ""
	}
	if incoming.SeenBy != nil {
		for _, userID := range incoming.SeenBy.ToSlice() {
			existing.MarkSeen(userID)
		}
	}
	existing.Status = models.StatusSent
}

func (e *Engine) lookupLocked(m models.Message) *models.Message {
	if m.ID != "" {
		if existing, ok := e.byKey[m.ID]; ok {
			return existing
		}
	}
	if m.TempID != "" {
		if existing, ok := e.byKey[m.TempID]; ok {
			return existing
		}
	}
	return nil
}

func (e *Engine) appendLocked(m *models.Message) {
	e.view = append(e.view, m)
	e.indexLocked(m)
}

// indexLocked registers both identifiers of a message; the correlation
// identifier stays registered after confirmation so a late duplicate echo
// carrying only the tempId still matches.
func (e *Engine) indexLocked(m *models.Message) {
	if m.ID != "" {
		e.byKey[m.ID] = m
	}
	if m.TempID != "" {
		e.byKey[m.TempID] = m
	}
}

func (e *Engine) remove(key string) bool {
	e.mu.Lock()
	m, ok := e.byKey[key]
	if ok {
		e.removeLocked(m)
	}
	e.mu.Unlock()

	if ok {
		e.notify()
	}
	return ok
}

func (e *Engine) removeLocked(m *models.Message) {
	delete(e.byKey, m.ID)
	delete(e.byKey, m.TempID)
	for i, entry := range e.view {
		if entry == m {
			e.view = append(e.view[:i], e.view[i+1:]...)
			break
		}
	}
}

func (e *Engine) replySnapshot(messageID string) *models.ReplySnapshot {
	if messageID == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byKey[messageID]
	if !ok {
		return nil
	}
	return &models.ReplySnapshot{
		ID:      m.ID,
		Sender:  m.Sender,
		Content: m.Content,
	}
}

func (e *Engine) setError(msg string) {
	e.mu.Lock()
	e.errMsg = msg
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) notify() {
	if e.onChange != nil {
		e.onChange()
	}
}
