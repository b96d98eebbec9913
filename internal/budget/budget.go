// Package budget estimates token counts for chat prompts and trims retrieved
// context to fit. Generation backends use different tokenizers, so the
// estimate is a character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message token cost most chat APIs add.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default input budget in tokens, sized to
	// fit 8k-context models with room left for the reply.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	return estimateLen(len(s))
}

// estimateLen converts a byte length into a token estimate.
func estimateLen(n int) int {
	tokens := n / charsPerToken
	if tokens == 0 && n > 0 {
		return 1
	}
	return tokens
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimBlocks drops context blocks from the end until fixed plus the joined
// blocks fit within maxTokens. blocks are ordered best first, so the lowest
// ranked passages go first. sep is the string the caller joins blocks with.
//
// fixed messages are never trimmed; if they alone exceed the budget the
// result is empty and the caller should log it. A non-positive maxTokens
// disables trimming.
func TrimBlocks(fixed []*schema.Message, blocks []string, sep string, maxTokens int) []string {
	if maxTokens <= 0 || len(blocks) == 0 {
		return blocks
	}

	budget := maxTokens - EstimateMessages(fixed)
	for len(blocks) > 0 {
		if joinedTokens(blocks, sep) <= budget {
			break
		}
		blocks = blocks[:len(blocks)-1]
	}
	return blocks
}

// joinedTokens estimates the tokens of blocks joined by sep.
func joinedTokens(blocks []string, sep string) int {
	n := 0
	for i, b := range blocks {
		if i > 0 {
			n += len(sep)
		}
		n += len(b)
	}
	return estimateLen(n)
}
