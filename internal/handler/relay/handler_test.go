package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/starglow-chat/backend/internal/auth"
	"github.com/starglow-chat/backend/internal/database"
	"github.com/starglow-chat/backend/internal/feed"
	"github.com/starglow-chat/backend/internal/model/character"
	"github.com/starglow-chat/backend/internal/model/chat"
	chatservice "github.com/starglow-chat/backend/internal/service/chat"
)

// fakeCompleter scripts the provider: either a fixed token sequence or
// a mid-stream failure after the first token.
type fakeCompleter struct {
	tokens      []string
	failMid     bool
	calls       int
	lastHistory []chat.Message
}

func (f *fakeCompleter) Stream(_ context.Context, _ character.Character, messages []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	f.calls++
	f.lastHistory = append([]chat.Message(nil), messages...)

	if f.failMid {
		sr, sw := schema.Pipe[*schema.Message](2)
		go func() {
			defer sw.Close()
			sw.Send(&schema.Message{Role: schema.Assistant, Content: f.tokens[0]}, nil)
			sw.Send(nil, errors.New("provider exploded"))
		}()
		return sr, nil
	}

	chunks := make([]*schema.Message, 0, len(f.tokens))
	for _, tok := range f.tokens {
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: tok})
	}
	return schema.StreamReaderFromArray(chunks), nil
}

type fixture struct {
	router    *chi.Mux
	chatSvc   *chatservice.Service
	completer *fakeCompleter
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	broker := feed.NewBroker()
	t.Cleanup(broker.Close)

	chatSvc := chatservice.NewService(db, broker)
	completer := &fakeCompleter{tokens: []string{"Hi", " there", "!"}}
	handler := New(completer, chatSvc, character.NewMemoryStore(character.Seed()))

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	return &fixture{router: r, chatSvc: chatSvc, completer: completer}
}

func (f *fixture) send(t *testing.T, userID string, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}

	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *fixture) createSession(t *testing.T, userID string) chat.Session {
	t.Helper()
	session, err := f.chatSvc.CreateSession(context.Background(), userID, "astral-guide", "Chat with Lyra")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	return session
}

func decodeEvents(t *testing.T, body string) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("malformed stream line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func validBody(session chat.Session) map[string]string {
	return map[string]string{
		"message":       "hello",
		"sessionId":     session.ID,
		"characterId":   "astral-guide",
		"userMessageId": "user-msg-1",
	}
}

func TestUnauthenticatedSendRejected(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "u1")

	resp := f.send(t, "", validBody(session))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["message"] != "Unauthorized" {
		t.Fatalf("unexpected body: %v", body)
	}

	messages, err := f.chatSvc.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("store written despite 401: %d messages", len(messages))
	}
}

func TestMissingFieldsRejected(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "u1")

	for _, field := range []string{"message", "sessionId", "characterId", "userMessageId"} {
		body := validBody(session)
		body[field] = ""

		resp := f.send(t, "u1", body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("missing %s: expected 400, got %d", field, resp.Code)
		}
	}
}

func TestUnknownCharacterRejected(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "u1")

	body := validBody(session)
	body["characterId"] = "nobody"

	resp := f.send(t, "u1", body)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestForeignSessionRejectedBeforeProviderCall(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "owner")

	resp := f.send(t, "intruder", validBody(session))

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if f.completer.calls != 0 {
		t.Fatalf("provider invoked %d times for a forbidden request", f.completer.calls)
	}
}

func TestUnknownSessionRejected(t *testing.T) {
	f := setup(t)

	body := validBody(chat.Session{ID: "no-such-session"})
	resp := f.send(t, "u1", body)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestMissingProviderCredential(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "u1")

	handler := New(nil, f.chatSvc, character.NewMemoryStore(character.Seed()))
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	payload, _ := json.Marshal(validBody(session))
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	req = req.WithContext(auth.WithUserID(req.Context(), "u1"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestSuccessfulStream(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "u1")

	resp := f.send(t, "u1", validBody(session))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("unexpected Cache-Control: %q", got)
	}

	events := decodeEvents(t, resp.Body.String())
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}

	var streamed strings.Builder
	for i, tok := range []string{"Hi", " there", "!"} {
		if events[i].Type != "token" || events[i].Token != tok {
			t.Fatalf("event %d: got %+v", i, events[i])
		}
		streamed.WriteString(events[i].Token)
	}
	last := events[len(events)-1]
	if last.Type != "done" {
		t.Fatalf("terminal event: got %+v", last)
	}

	messages, err := f.chatSvc.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user+assistant rows, got %d", len(messages))
	}
	assistant := messages[1]
	if assistant.Sender != chat.SenderAssistant {
		t.Fatalf("second row sender: %s", assistant.Sender)
	}
	if assistant.Content != "Hi there!" {
		t.Fatalf("persisted content %q does not match stream", assistant.Content)
	}
	if assistant.ID != last.MessageID {
		t.Fatalf("persisted id %s != done event id %s", assistant.ID, last.MessageID)
	}
	if streamed.String() != assistant.Content {
		t.Fatalf("token concatenation %q != persisted %q", streamed.String(), assistant.Content)
	}
}

func TestTokenEventsShareAssistantMessageID(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "u1")

	resp := f.send(t, "u1", validBody(session))
	events := decodeEvents(t, resp.Body.String())

	id := events[0].MessageID
	if id == "" {
		t.Fatal("token event missing messageId")
	}
	for _, ev := range events {
		if ev.MessageID != id {
			t.Fatalf("mixed message ids: %q vs %q", ev.MessageID, id)
		}
	}
}

func TestEmptyFragmentsAreSkipped(t *testing.T) {
	f := setup(t)
	f.completer.tokens = []string{"Hi", "", "!"}
	session := f.createSession(t, "u1")

	resp := f.send(t, "u1", validBody(session))
	events := decodeEvents(t, resp.Body.String())

	// Two token events plus done; the empty fragment is a no-op.
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
}

func TestMidStreamProviderFailure(t *testing.T) {
	f := setup(t)
	f.completer.failMid = true
	session := f.createSession(t, "u1")

	resp := f.send(t, "u1", validBody(session))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected committed 200, got %d", resp.Code)
	}

	events := decodeEvents(t, resp.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected token+error, got %+v", events)
	}
	if events[0].Type != "token" || events[0].Token != "Hi" {
		t.Fatalf("first event: %+v", events[0])
	}
	if events[1].Type != "error" {
		t.Fatalf("terminal event: %+v", events[1])
	}

	messages, err := f.chatSvc.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected only the user message, got %d rows", len(messages))
	}
	if messages[0].Sender != chat.SenderUser {
		t.Fatalf("surviving row sender: %s", messages[0].Sender)
	}
}

func TestHistoryWindowBoundsPrompt(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "u1")
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		sender := chat.SenderUser
		if i%2 == 1 {
			sender = chat.SenderAssistant
		}
		if _, err := f.chatSvc.AppendMessage(ctx, chat.Message{
			SessionID: session.ID,
			Sender:    sender,
			Content:   strings.Repeat("x", i+1),
		}); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
	}

	resp := f.send(t, "u1", validBody(session))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	if len(f.completer.lastHistory) != 12 {
		t.Fatalf("prompt history length %d, want 12", len(f.completer.lastHistory))
	}
	newest := f.completer.lastHistory[len(f.completer.lastHistory)-1]
	if newest.Content != "hello" || newest.Sender != chat.SenderUser {
		t.Fatalf("newest prompt entry should be the just-sent message, got %+v", newest)
	}
}

func TestReplayedUserMessageIDDoesNotDuplicate(t *testing.T) {
	f := setup(t)
	session := f.createSession(t, "u1")

	f.send(t, "u1", validBody(session))
	f.send(t, "u1", validBody(session))

	messages, err := f.chatSvc.ListMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}

	users := 0
	for _, msg := range messages {
		if msg.Sender == chat.SenderUser {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("replayed userMessageId produced %d user rows", users)
	}
}
