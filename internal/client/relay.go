package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// StreamEvent mirrors one line of the relay's response stream.
type StreamEvent struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SendRequest is the relay request payload.
type SendRequest struct {
	Message       string `json:"message"`
	SessionID     string `json:"sessionId"`
	CharacterID   string `json:"characterId"`
	UserMessageID string `json:"userMessageId"`
}

// RelayClient posts sends to the relay endpoint and consumes the
// resulting newline-delimited JSON event stream.
type RelayClient struct {
	baseURL string
	http    *http.Client
}

// NewRelayClient creates a relay client. The http.Client should carry
// the session cookie (for example via a cookie jar).
func NewRelayClient(baseURL string, httpClient *http.Client) *RelayClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Send issues the request and invokes onEvent for every well-formed
// stream line in order. A malformed line is logged and skipped; it
// never aborts the rest of the stream. A non-200 response is returned
// as an error decoded from the {"message"} body.
func (c *RelayClient) Send(ctx context.Context, req SendRequest, onEvent func(StreamEvent)) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send rejected: %s", decodeErrorBody(resp.Body))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')

		if trimmed := strings.TrimSpace(line); trimmed != "" {
			var event StreamEvent
			if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
				log.Printf("[client] skipping malformed stream line: %v", err)
			} else {
				onEvent(event)
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

func decodeErrorBody(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "request failed"
	}

	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(raw))
}
