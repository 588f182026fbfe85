package context

import (
	"context"

	"github.com/entrhq/contextwindow/pkg/types"
)

// TokenCounter counts the tokens of a content block sequence.
// Implementations may fail; callers decide how to recover.
type TokenCounter interface {
	CountTokens(ctx context.Context, blocks []types.ContentBlock) (int, error)
}

// TokenCounterFunc adapts a function to the TokenCounter interface.
type TokenCounterFunc func(ctx context.Context, blocks []types.ContentBlock) (int, error)

// CountTokens calls f.
func (f TokenCounterFunc) CountTokens(ctx context.Context, blocks []types.ContentBlock) (int, error) {
	return f(ctx, blocks)
}

// blockCounter is satisfied by *tokenizer.Tokenizer.
type blockCounter interface {
	CountBlocks(ctx context.Context, blocks []types.ContentBlock) (int, error)
}

// CounterFromTokenizer adapts anything with a CountBlocks method (such as
// *tokenizer.Tokenizer) into a TokenCounter.
func CounterFromTokenizer(tok blockCounter) TokenCounter {
	return TokenCounterFunc(tok.CountBlocks)
}

// EstimateTokenCount returns the token count of blocks. Empty input costs
// zero and never reaches the counter.
func EstimateTokenCount(ctx context.Context, counter TokenCounter, blocks []types.ContentBlock) (int, error) {
	if len(blocks) == 0 {
		return 0, nil
	}
	return counter.CountTokens(ctx, blocks)
}
