package client

import (
	"sort"
	"sync"

	"github.com/starglow-chat/backend/internal/feed"
	"github.com/starglow-chat/backend/internal/model/chat"
)

// SessionList reconciles the user's session overview: sessions sorted
// by updated_at descending plus a latest-message preview per session,
// both kept current from change-feed events.
type SessionList struct {
	mu       sync.Mutex
	sessions []chat.Session
	previews map[string]string
}

// NewSessionList seeds the list from the server snapshot.
func NewSessionList(sessions []chat.Session, previews map[string]string) *SessionList {
	l := &SessionList{}
	l.Seed(sessions, previews)
	return l
}

// Seed replaces the working set.
func (l *SessionList) Seed(sessions []chat.Session, previews map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessions = append([]chat.Session(nil), sessions...)
	l.sortLocked()

	l.previews = make(map[string]string, len(previews))
	for id, preview := range previews {
		l.previews[id] = preview
	}
}

// Sessions returns a copy sorted by updated_at descending.
func (l *SessionList) Sessions() []chat.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chat.Session(nil), l.sessions...)
}

// Preview returns the latest-message preview for a session.
func (l *SessionList) Preview(sessionID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.previews[sessionID]
}

// Apply folds a change-feed event into the list. Session events
// insert/update/delete rows; message inserts refresh the preview and
// bump the owning session's recency.
func (l *SessionList) Apply(ev feed.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Table {
	case feed.TableSessions:
		l.applySessionLocked(ev)
	case feed.TableMessages:
		if ev.Action == feed.ActionInsert && ev.Message != nil {
			l.applyMessageLocked(*ev.Message)
		}
	}
}

func (l *SessionList) applySessionLocked(ev feed.Event) {
	switch ev.Action {
	case feed.ActionInsert:
		if ev.Session == nil {
			return
		}
		if l.indexOf(ev.Session.ID) == -1 {
			l.sessions = append(l.sessions, *ev.Session)
		}
	case feed.ActionUpdate:
		if ev.Session == nil {
			return
		}
		if idx := l.indexOf(ev.Session.ID); idx != -1 {
			l.sessions[idx] = *ev.Session
		}
	case feed.ActionDelete:
		if idx := l.indexOf(ev.OldID); idx != -1 {
			l.sessions = append(l.sessions[:idx], l.sessions[idx+1:]...)
			delete(l.previews, ev.OldID)
		}
	}
	l.sortLocked()
}

func (l *SessionList) applyMessageLocked(msg chat.Message) {
	l.previews[msg.SessionID] = msg.Content
	if idx := l.indexOf(msg.SessionID); idx != -1 {
		l.sessions[idx].UpdatedAt = msg.CreatedAt
	}
	l.sortLocked()
}

func (l *SessionList) indexOf(sessionID string) int {
	for i, session := range l.sessions {
		if session.ID == sessionID {
			return i
		}
	}
	return -1
}

func (l *SessionList) sortLocked() {
	sort.SliceStable(l.sessions, func(i, j int) bool {
		return l.sessions[i].UpdatedAt.After(l.sessions[j].UpdatedAt)
	})
}
