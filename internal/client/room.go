package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starglow-chat/backend/internal/feed"
	"github.com/starglow-chat/backend/internal/model/chat"
)

// Room binds a Timeline to the relay for one open chat view: it runs
// the optimistic send, folds streamed tokens in as they arrive, and
// reconciles change-feed events against the local state.
type Room struct {
	timeline    *Timeline
	relay       *RelayClient
	characterID string
}

// NewRoom creates a room over an already-seeded timeline.
func NewRoom(timeline *Timeline, relay *RelayClient, characterID string) *Room {
	return &Room{
		timeline:    timeline,
		relay:       relay,
		characterID: characterID,
	}
}

// Timeline exposes the reconciled view for rendering.
func (r *Room) Timeline() *Timeline {
	return r.timeline
}

// Send runs one full send cycle. On any failure the optimistic user
// message is rolled back from the view and the error returned for
// display; the session stays usable for a retry.
func (r *Room) Send(ctx context.Context, text string) error {
	optimistic, err := r.timeline.BeginSend(strings.TrimSpace(text))
	if err != nil {
		return err
	}

	var streamErr error
	err = r.relay.Send(ctx, SendRequest{
		Message:       optimistic.Content,
		SessionID:     optimistic.SessionID,
		CharacterID:   r.characterID,
		UserMessageID: optimistic.ID,
	}, func(event StreamEvent) {
		if streamErr != nil {
			return
		}
		switch event.Type {
		case "token":
			if event.Token != "" {
				r.timeline.ApplyToken(event.MessageID, event.Token)
			}
		case "done":
			r.timeline.FinishStream(time.Now().UTC())
		case "error":
			streamErr = errors.New(event.Message)
		}
	})
	if err == nil {
		err = streamErr
	}
	if err != nil {
		r.timeline.FailSend()
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// ApplyFeedEvent reconciles a change-feed event into the timeline.
func (r *Room) ApplyFeedEvent(ev feed.Event) {
	if ev.Table != feed.TableMessages || ev.Action != feed.ActionInsert || ev.Message == nil {
		return
	}
	r.applyInsert(*ev.Message)
}

func (r *Room) applyInsert(msg chat.Message) {
	r.timeline.ApplyInsert(msg)
}
