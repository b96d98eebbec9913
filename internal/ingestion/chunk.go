package ingestion

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkMaxChars is the soft upper bound on chunk length in characters.
const DefaultChunkMaxChars = 1200

// Chunk splits text into sentence-aligned pieces of at most maxLen
// characters. Sentences end at '.', '?' or '!' followed by whitespace and are
// joined greedily with single spaces. A sentence longer than maxLen is emitted
// whole as its own chunk. Empty or whitespace-only text yields no chunks.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultChunkMaxChars
	}

	var (
		out    []string
		buf    strings.Builder
		bufLen int
	)
	for _, s := range Sentences(text) {
		n := utf8.RuneCountInString(s)
		if bufLen > 0 && bufLen+1+n > maxLen {
			out = append(out, buf.String())
			buf.Reset()
			bufLen = 0
		}
		if bufLen > 0 {
			buf.WriteByte(' ')
			bufLen++
		}
		buf.WriteString(s)
		bufLen += n
	}
	if bufLen > 0 {
		out = append(out, buf.String())
	}
	return out
}

// Sentences splits text after every '.', '?' or '!' that is followed by
// whitespace. Pieces are trimmed; empty pieces are dropped.
func Sentences(text string) []string {
	var (
		out   []string
		start int
	)
	emit := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		next, _ := utf8.DecodeRuneInString(text[i:])
		if i < len(text) && unicode.IsSpace(next) {
			emit(i)
			start = i
		}
	}
	emit(len(text))
	return out
}
