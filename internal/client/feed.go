package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/starglow-chat/backend/internal/feed"
)

// FeedListener consumes the realtime WebSocket endpoint and hands
// decoded change-feed events to a callback.
type FeedListener struct {
	baseURL string
	header  http.Header
}

// NewFeedListener creates a listener. The header should carry the
// session cookie used by the rest of the client.
func NewFeedListener(baseURL string, header http.Header) *FeedListener {
	return &FeedListener{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  header,
	}
}

// Listen connects and dispatches events until the context is canceled
// or the connection drops. A frame that fails to decode is logged and
// skipped.
func (l *FeedListener) Listen(ctx context.Context, sessionID string, onEvent func(feed.Event)) error {
	url := wsURL(l.baseURL) + "/api/realtime"
	if sessionID != "" {
		url += "?sessionId=" + sessionID
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, l.header)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read realtime frame: %w", err)
		}

		var ev feed.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("[client] skipping malformed realtime frame: %v", err)
			continue
		}
		onEvent(ev)
	}
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
