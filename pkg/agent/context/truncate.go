package context

import (
	"math"

	"github.com/entrhq/contextwindow/pkg/types"
)

// TruncationCount returns how many messages TruncateConversation removes
// from a conversation of n messages. The count is always even so that
// user/assistant alternation survives the cut.
func TruncationCount(n int, fraction float64) int {
	if n <= 1 {
		return 0
	}
	fraction = clampFraction(fraction)
	raw := int(math.Floor(float64(n-1) * fraction))
	return raw - raw%2
}

// TruncateConversation drops an even-sized run of messages directly after
// the first one. The first message is always kept.
//
// fraction is the share of the messages after the first to remove, clamped
// to [0, 1]. A zero removal count yields a copy equal to the input.
func TruncateConversation(messages []*types.Message, fraction float64) []*types.Message {
	if len(messages) <= 1 {
		return messages
	}

	remove := TruncationCount(len(messages), fraction)
	truncated := make([]*types.Message, 0, len(messages)-remove)
	truncated = append(truncated, messages[0])
	return append(truncated, messages[remove+1:]...)
}

func clampFraction(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
