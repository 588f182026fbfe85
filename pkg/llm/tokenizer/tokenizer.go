// Package tokenizer provides tiktoken-backed token counting for conversation content.
package tokenizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/contextwindow/pkg/types"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding is used when no model-specific encoding can be resolved.
	DefaultEncoding = "cl100k_base"

	// ImageBlockTokens is the flat cost charged for a non-text block.
	ImageBlockTokens = 85

	// blockOverhead approximates the framing tokens around each content block.
	blockOverhead = 3

	// messageOverhead approximates the role/separator tokens around each message.
	messageOverhead = 4

	// replyPriming is added once per conversation for the assistant reply header.
	replyPriming = 3
)

// Tokenizer counts tokens with a tiktoken encoding.
type Tokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// New creates a tokenizer using the default encoding.
func New() (*Tokenizer, error) {
	return NewWithEncoding(DefaultEncoding)
}

// NewWithEncoding creates a tokenizer for a named tiktoken encoding.
func NewWithEncoding(encoding string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &Tokenizer{encoding: encoding, enc: enc}, nil
}

// NewForModel creates a tokenizer for a model name, falling back to the
// default encoding for models tiktoken does not know.
func NewForModel(model string) (*Tokenizer, error) {
	if encoding, ok := EncodingForModel(model); ok {
		return NewWithEncoding(encoding)
	}
	return New()
}

// EncodingForModel resolves the tiktoken encoding name for a model. An exact
// match wins; otherwise the longest matching model prefix is used.
func EncodingForModel(model string) (string, bool) {
	if model == "" {
		return "", false
	}
	if encoding, ok := tiktoken.MODEL_TO_ENCODING[model]; ok {
		return encoding, true
	}
	best, encoding := "", ""
	for prefix, enc := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, encoding = prefix, enc
		}
	}
	return encoding, best != ""
}

// Encoding returns the name of the tiktoken encoding in use.
func (t *Tokenizer) Encoding() string {
	return t.encoding
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.EncodeOrdinary(text))
}

// CountBlocks counts the tokens of a block sequence. Text and tool-result
// blocks are encoded; other blocks are charged ImageBlockTokens.
func (t *Tokenizer) CountBlocks(ctx context.Context, blocks []types.ContentBlock) (int, error) {
	total := 0
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		total += blockOverhead
		switch block.Type {
		case types.BlockTypeText, types.BlockTypeToolResult:
			total += t.CountTokens(block.Text)
		default:
			total += ImageBlockTokens
		}
	}
	return total, nil
}

// CountMessageTokens counts a single message including its framing overhead.
func (t *Tokenizer) CountMessageTokens(msg *types.Message) int {
	// Blocks never fail without a cancelled context.
	n, _ := t.CountBlocks(context.Background(), msg.ContentBlocks())
	return messageOverhead + t.CountTokens(string(msg.Role)) + n
}

// CountMessagesTokens counts a whole conversation.
func (t *Tokenizer) CountMessagesTokens(messages []*types.Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := replyPriming
	for _, msg := range messages {
		total += t.CountMessageTokens(msg)
	}
	return total
}
