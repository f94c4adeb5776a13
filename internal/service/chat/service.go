package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/starglow-chat/backend/internal/feed"
	"github.com/starglow-chat/backend/internal/model/chat"
)

var (
	ErrCharacterRequired = errors.New("character id is required")
	ErrSessionNotFound   = errors.New("session not found")
)

// Service is the store access layer: durable sessions and messages on
// sqlite, with every successful write published to the change feed.
type Service struct {
	db     *gorm.DB
	events *feed.Broker
}

// NewService wraps the database handle and the feed broker.
func NewService(db *gorm.DB, events *feed.Broker) *Service {
	return &Service{db: db, events: events}
}

// CreateSession provisions a session bound to a character.
func (s *Service) CreateSession(ctx context.Context, userID, characterID, title string) (chat.Session, error) {
	if characterID == "" {
		return chat.Session{}, ErrCharacterRequired
	}

	now := time.Now().UTC()
	session := chat.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		CharacterID: characterID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.publishSession(feed.ActionInsert, session)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var session chat.Session
	err := s.db.WithContext(ctx).Take(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns the user's sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]chat.Session, error) {
	var sessions []chat.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// LatestSessionForCharacter returns the user's most recently active
// session with the given character, or nil when none exists.
func (s *Service) LatestSessionForCharacter(ctx context.Context, userID, characterID string) (*chat.Session, error) {
	var session chat.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		Order("updated_at desc").
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest session for character: %w", err)
	}
	return &session, nil
}

// AppendMessage persists a message. The message ID is the idempotency
// key: a replay with an already-stored ID is a no-op and the stored
// row is returned unchanged. Publishes an insert event only when a row
// was actually written.
func (s *Service) AppendMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	session, err := s.GetSession(ctx, message.SessionID)
	if err != nil {
		return chat.Message{}, err
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.Streaming = false

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&message)
	if result.Error != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		// Replay: surface the canonical row instead.
		var existing chat.Message
		if err := s.db.WithContext(ctx).Take(&existing, "id = ?", message.ID).Error; err != nil {
			return chat.Message{}, fmt.Errorf("load existing message: %w", err)
		}
		return existing, nil
	}

	s.events.Publish(feed.Event{
		Table:   feed.TableMessages,
		Action:  feed.ActionInsert,
		UserID:  session.UserID,
		Message: &message,
	})
	return message, nil
}

// ListMessages returns the session transcript ordered oldest first.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var messages []chat.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// LatestMessageBySession returns the newest message content per
// session, for list previews.
func (s *Service) LatestMessageBySession(ctx context.Context, sessionIDs []string) (map[string]string, error) {
	if len(sessionIDs) == 0 {
		return map[string]string{}, nil
	}

	var messages []chat.Message
	err := s.db.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Order("created_at desc").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}

	latest := make(map[string]string, len(sessionIDs))
	for _, msg := range messages {
		if _, ok := latest[msg.SessionID]; !ok {
			latest[msg.SessionID] = msg.Content
		}
	}
	return latest, nil
}

// TouchSession bumps the session's updated_at and publishes the
// refreshed row as an update event.
func (s *Service) TouchSession(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id = ?", sessionID).
		Update("updated_at", time.Now().UTC())
	if result.Error != nil {
		return fmt.Errorf("touch session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.publishSession(feed.ActionUpdate, session)
	return nil
}

func (s *Service) publishSession(action feed.Action, session chat.Session) {
	s.events.Publish(feed.Event{
		Table:   feed.TableSessions,
		Action:  action,
		UserID:  session.UserID,
		Session: &session,
	})
}
