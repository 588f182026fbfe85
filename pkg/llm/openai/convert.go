// Package openai converts managed conversation history into the message
// parameters of the OpenAI chat completions API.
//
// Example usage, with this package imported as cwopenai:
//
//	reduced, err := manager.ReduceIfNeeded(ctx, req)
//	if err != nil {
//	    return err
//	}
//	params := openai.ChatCompletionNewParams{
//	    Model:    openai.ChatModelGPT4o,
//	    Messages: cwopenai.ToChatMessages(reduced),
//	}
package openai

import (
	"strings"

	"github.com/entrhq/contextwindow/pkg/types"
	"github.com/openai/openai-go"
)

// ToChatMessages converts history to OpenAI message params, preserving order.
//
// User messages in block form become multi-part messages (text and image
// parts). System and assistant messages are sent as plain text; their
// non-text blocks are dropped.
func ToChatMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Text()))
		default:
			// Unknown roles are sent as user messages.
			out = append(out, userMessage(msg))
		}
	}

	return out
}

func userMessage(msg *types.Message) openai.ChatCompletionMessageParamUnion {
	if !msg.HasBlocks() {
		return openai.UserMessage(msg.Content)
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Blocks))
	for _, block := range msg.Blocks {
		switch block.Type {
		case types.BlockTypeText, types.BlockTypeToolResult:
			parts = append(parts, openai.TextContentPart(block.Text))
		case types.BlockTypeImage:
			if strings.TrimSpace(block.Source) == "" {
				continue
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: block.Source,
			}))
		}
	}
	return openai.UserMessage(parts)
}
