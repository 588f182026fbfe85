package context

import (
	"github.com/entrhq/contextwindow/pkg/types"
)

// SummarizeInterior rewrites tagged content in interior messages using
// summaries. Only user messages in block form are touched, and within them
// only text blocks. A message is rebuilt only when one of its blocks changed;
// everything else is reused. The returned slice has the same length as the
// input, and applied reports whether any marker was replaced.
func SummarizeInterior(interior []*types.Message, summaries SummaryMap) ([]*types.Message, bool) {
	out := make([]*types.Message, len(interior))
	applied := false

	for i, msg := range interior {
		out[i] = msg
		if msg.Role != types.RoleUser || !msg.HasBlocks() {
			continue
		}

		var blocks []types.ContentBlock
		for j, block := range msg.Blocks {
			if !block.IsText() {
				continue
			}
			text, ok := ReplaceTaggedContent(block.Text, summaries)
			if !ok {
				continue
			}
			if blocks == nil {
				blocks = make([]types.ContentBlock, len(msg.Blocks))
				copy(blocks, msg.Blocks)
			}
			blocks[j].Text = text
		}

		if blocks != nil {
			out[i] = msg.WithBlocks(blocks)
			applied = true
		}
	}

	return out, applied
}

// SummarizeTaggedContent applies SummarizeInterior to everything between the
// first and last message and reassembles the conversation. Conversations
// shorter than three messages have no interior and come back unchanged.
func SummarizeTaggedContent(messages []*types.Message, summaries SummaryMap) ([]*types.Message, bool) {
	if len(messages) < 3 {
		return messages, false
	}

	interior, applied := SummarizeInterior(messages[1:len(messages)-1], summaries)

	out := make([]*types.Message, 0, len(messages))
	out = append(out, messages[0])
	out = append(out, interior...)
	return append(out, messages[len(messages)-1]), applied
}
