package types

import "strings"

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"    // RoleSystem is a system/instruction message.
	RoleUser      Role = "user"      // RoleUser is a user-authored message.
	RoleAssistant Role = "assistant" // RoleAssistant is an agent-authored message.
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockTypeText       BlockType = "text"        // BlockTypeText is a plain text block.
	BlockTypeImage      BlockType = "image"       // BlockTypeImage is an image block referenced by Source.
	BlockTypeToolResult BlockType = "tool_result" // BlockTypeToolResult carries the text output of a tool.
)

// ContentBlock is one typed element of a message's content.
type ContentBlock struct {
	// Metadata holds optional provider-specific data. It is never inspected here.
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Type is the block kind.
	Type BlockType `json:"type" yaml:"type"`

	// Text is the block text. Only meaningful for text blocks.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// Source is a URL or data URI for non-text blocks.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// NewTextBlock creates a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// NewImageBlock creates an image content block pointing at source.
func NewImageBlock(source string) ContentBlock {
	return ContentBlock{Type: BlockTypeImage, Source: source}
}

// IsText reports whether the block is a text block.
func (b ContentBlock) IsText() bool {
	return b.Type == BlockTypeText
}

// Message is a single entry in the conversation history.
//
// Content is either a plain string (Content) or an ordered sequence of
// blocks (Blocks). When Blocks is non-nil the message is in block form and
// Content is ignored.
//
// Messages are treated as immutable once placed in history. Use WithBlocks
// to derive a modified copy.
type Message struct {
	// Metadata holds optional additional information about the message.
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Role is the author of the message.
	Role Role `json:"role" yaml:"role"`

	// Content is the plain string form of the message.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`

	// Blocks is the block form of the message.
	Blocks []ContentBlock `json:"blocks,omitempty" yaml:"blocks,omitempty"`
}

// NewUserMessage creates a plain-text user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a plain-text assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// NewSystemMessage creates a plain-text system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserBlocksMessage creates a user message in block form.
func NewUserBlocksMessage(blocks ...ContentBlock) *Message {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return &Message{Role: RoleUser, Blocks: blocks}
}

// HasBlocks reports whether the message content is a block sequence.
func (m *Message) HasBlocks() bool {
	return m.Blocks != nil
}

// ContentBlocks returns the message content as blocks. Plain string content
// is wrapped as a single synthetic text block.
func (m *Message) ContentBlocks() []ContentBlock {
	if m.HasBlocks() {
		return m.Blocks
	}
	return []ContentBlock{NewTextBlock(m.Content)}
}

// Text returns the concatenated text of the message. Non-text blocks are skipped.
func (m *Message) Text() string {
	if !m.HasBlocks() {
		return m.Content
	}
	var sb strings.Builder
	for i, b := range m.Blocks {
		if !b.IsText() && b.Type != BlockTypeToolResult {
			continue
		}
		if i > 0 && sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// WithBlocks returns a shallow copy of the message whose content is blocks.
// The receiver is left untouched.
func (m *Message) WithBlocks(blocks []ContentBlock) *Message {
	clone := *m
	clone.Content = ""
	clone.Blocks = blocks
	return &clone
}
