package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/starglow-chat/backend/internal/config"
	"github.com/starglow-chat/backend/internal/model/character"
	"github.com/starglow-chat/backend/internal/model/chat"
)

// Service adapts the configured chat model to the relay: character
// system prompt plus the caller's bounded history in, token stream out.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService builds the prompt/model chain from the configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &Service{chatModel: chatModel, chain: runnable}, nil
}

// Stream opens a streaming completion for the character and history.
// The caller bounds the history and it must already include the user's
// latest message.
func (s *Service) Stream(ctx context.Context, char character.Character, messages []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	input := map[string]any{
		"system":  char.SystemPrompt,
		"history": buildHistory(messages),
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("stream chat chain: %w", err)
	}
	return stream, nil
}

// buildHistory maps stored messages into model roles, oldest first.
func buildHistory(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		history = append(history, &schema.Message{
			Role:    roleFor(msg.Sender),
			Content: msg.Content,
		})
	}
	return history
}

// roleFor is total over Sender: unknown senders degrade to the user
// role rather than an implicit branch.
func roleFor(sender chat.Sender) schema.RoleType {
	switch sender {
	case chat.SenderAssistant:
		return schema.Assistant
	case chat.SenderSystem:
		return schema.System
	default:
		return schema.User
	}
}
