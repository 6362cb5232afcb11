package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// Batch extractions share one large system prompt: the field schema plus
// extraction instructions. Caching it with a 1-hour TTL and warming the
// cache with a single primer request means every batch item pays the
// cache-read rate instead of full input-token price.

// BuildCachedSystemBlocks wraps text in a single system block with a
// 1-hour cache breakpoint.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "1h"},
		},
	}
}

// PrimerRequest sends one sequential message to warm the prompt cache
// before a batch is submitted. The request's system blocks should come
// from BuildCachedSystemBlocks; the response itself is usually discarded.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
