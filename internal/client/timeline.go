// Package client implements the session reconciler a chat view runs:
// it merges the server snapshot, the locally streamed reply, and
// change-feed events into one ordered, id-deduplicated message list.
package client

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starglow-chat/backend/internal/model/chat"
)

var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrSendInFlight  = errors.New("a send is already in flight")
	ErrNoPendingSend = errors.New("no send in flight")
)

// StreamingMessage is the single not-yet-finalized assistant entry.
// It is rendered alongside the timeline but never part of it; the
// canonical row replaces it, never merges with it.
type StreamingMessage struct {
	ID      string
	Content string
}

// Timeline is the per-session message view. An id enters the durable
// sequence at most once no matter which path (local stream or change
// feed) delivers it first.
type Timeline struct {
	mu        sync.Mutex
	sessionID string
	messages  []chat.Message
	seen      map[string]struct{}
	streaming *StreamingMessage
	pendingID string
}

// NewTimeline seeds a timeline from the server snapshot.
func NewTimeline(sessionID string, snapshot []chat.Message) *Timeline {
	t := &Timeline{sessionID: sessionID}
	t.Seed(sessionID, snapshot)
	return t
}

// Seed replaces the working set, used when the underlying session
// changes or the view reloads. Resets the seen-id set.
func (t *Timeline) Seed(sessionID string, snapshot []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessionID = sessionID
	t.messages = append([]chat.Message(nil), snapshot...)
	sort.SliceStable(t.messages, func(i, j int) bool {
		return t.messages[i].CreatedAt.Before(t.messages[j].CreatedAt)
	})
	t.seen = make(map[string]struct{}, len(snapshot))
	for _, msg := range snapshot {
		t.seen[msg.ID] = struct{}{}
	}
	t.streaming = nil
	t.pendingID = ""
}

// SessionID returns the session this timeline tracks.
func (t *Timeline) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Messages returns a copy of the durable sequence.
func (t *Timeline) Messages() []chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]chat.Message(nil), t.messages...)
}

// Streaming returns the in-flight assistant entry, if any.
func (t *Timeline) Streaming() *StreamingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.streaming == nil {
		return nil
	}
	copied := *t.streaming
	return &copied
}

// BeginSend inserts an optimistic user message and marks a send in
// flight. At most one send may be in flight per view.
func (t *Timeline) BeginSend(text string) (chat.Message, error) {
	if text == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pendingID != "" {
		return chat.Message{}, ErrSendInFlight
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: t.sessionID,
		Sender:    chat.SenderUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}

	t.seen[msg.ID] = struct{}{}
	t.insertSorted(msg)
	t.pendingID = msg.ID
	return msg, nil
}

// ApplyToken folds a streamed token into the streaming entry, creating
// it on first token. A token for a different id replaces the entry.
func (t *Timeline) ApplyToken(messageID, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.streaming == nil || t.streaming.ID != messageID {
		t.streaming = &StreamingMessage{ID: messageID}
	}
	t.streaming.Content += token
}

// FinishStream materializes the streamed reply unless the change feed
// already delivered the canonical row, then clears the in-flight state.
func (t *Timeline) FinishStream(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.streaming != nil {
		if _, dup := t.seen[t.streaming.ID]; !dup {
			t.seen[t.streaming.ID] = struct{}{}
			t.insertSorted(chat.Message{
				ID:        t.streaming.ID,
				SessionID: t.sessionID,
				Sender:    chat.SenderAssistant,
				Content:   t.streaming.Content,
				CreatedAt: now,
			})
		}
	}

	t.streaming = nil
	t.pendingID = ""
}

// FailSend rolls back the optimistic user message and clears the
// in-flight state. The store may still hold the message; the view
// accepts that divergence until the next seed or feed event.
func (t *Timeline) FailSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.streaming = nil
	if t.pendingID == "" {
		return false
	}

	removed := t.remove(t.pendingID)
	delete(t.seen, t.pendingID)
	t.pendingID = ""
	return removed
}

// ApplyInsert folds a change-feed message insert into the sequence.
// First arrival wins: an already-seen id is a no-op. A streaming entry
// with the same id is discarded in favor of the canonical row.
func (t *Timeline) ApplyInsert(msg chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.SessionID != t.sessionID {
		return false
	}
	if _, dup := t.seen[msg.ID]; dup {
		if t.streaming != nil && t.streaming.ID == msg.ID {
			t.streaming = nil
		}
		return false
	}

	t.seen[msg.ID] = struct{}{}
	t.insertSorted(msg)
	if t.streaming != nil && t.streaming.ID == msg.ID {
		t.streaming = nil
	}
	return true
}

// insertSorted places msg by created_at ascending; ties go after
// existing entries so arrival order is preserved. Caller holds mu.
func (t *Timeline) insertSorted(msg chat.Message) {
	idx := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	t.messages = append(t.messages, chat.Message{})
	copy(t.messages[idx+1:], t.messages[idx:])
	t.messages[idx] = msg
}

// remove deletes the message with the given id. Caller holds mu.
func (t *Timeline) remove(id string) bool {
	for i, msg := range t.messages {
		if msg.ID == id {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}
