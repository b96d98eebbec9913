package chat

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/net/html"

	"github.com/54b3r/sitechat-go/internal/rag"
)

const (
	// MaxHitChars bounds the text of one hit in the context block.
	MaxHitChars = 1400

	// NoContext replaces the context block when retrieval found nothing.
	NoContext = "(no context available)"

	// blockSeparator joins context blocks.
	blockSeparator = "\n\n"
)

// DefaultSystemPrompt restricts answers to the retrieved context.
const DefaultSystemPrompt = `You are this website's support assistant. Answer using only the provided Context.
If the answer isn't in Context, say you don't know and suggest the closest relevant page.
- Be concise and friendly.
- Include the exact page URL when citing facts.
- Do not invent links.`

// ContextBlocks renders hits as numbered blocks in rank order:
//
//	[n] URL: <url>
//	TITLE: <entity-decoded title>
//	TEXT: <first MaxHitChars characters>
func ContextBlocks(hits []rag.Hit) []string {
	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		blocks = append(blocks, fmt.Sprintf("[%d] URL: %s\nTITLE: %s\nTEXT: %s",
			i+1, h.URL, html.UnescapeString(h.Title), truncate(h.Content, MaxHitChars)))
	}
	return blocks
}

// JoinContext joins blocks with blank lines, or returns NoContext when empty.
func JoinContext(blocks []string) string {
	if len(blocks) == 0 {
		return NoContext
	}
	return strings.Join(blocks, blockSeparator)
}

// UserPrompt frames the question and its context for the model.
func UserPrompt(message, contextText string) string {
	return "User:\n" + strings.TrimSpace(message) + "\n\nContext:\n" + contextText
}

// BuildMessages returns the system and user messages for one answer.
func BuildMessages(systemPrompt, message string, blocks []string) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(UserPrompt(message, JoinContext(blocks))),
	}
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
