package anthropic

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// CriteriaSystemBlocks builds the system prompt for classification: a fixed
// instruction block followed by the operator's criteria document behind a
// 1-hour cache breakpoint, so every lead in a run reuses the cached prefix.
func CriteriaSystemBlocks(instructions, criteria string) []SystemBlock {
	var blocks []SystemBlock
	if s := strings.TrimSpace(instructions); s != "" {
		blocks = append(blocks, SystemBlock{Text: s})
	}
	if strings.TrimSpace(criteria) == "" {
		return blocks
	}
	blocks = append(blocks, SystemBlock{
		Text:         criteria,
		CacheControl: &CacheControl{TTL: "1h"},
	})
	return blocks
}

// WarmCache sends one sequential request so later batch items hit a warm
// prompt cache. The response is discarded.
func WarmCache(ctx context.Context, client Client, req MessageRequest) error {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return eris.Wrap(err, "anthropic: warm cache")
	}
	resp.Usage.LogUsage(req.Model, "warm_cache", false)
	return nil
}
