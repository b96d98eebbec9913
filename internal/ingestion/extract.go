package ingestion

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlock  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	commentNode = regexp.MustCompile(`(?s)<!--.*?-->`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Extract returns the page title and visible text of an HTML document.
//
// The title is the first <title> element, entity-decoded with whitespace
// collapsed, or "" when absent. The text has script and style blocks removed
// together with their tags, every other tag replaced by a space, entities
// decoded and whitespace runs collapsed to single spaces.
func Extract(markup string) (title, text string) {
	return extractTitle(markup), extractText(markup)
}

// extractTitle tokenizes markup until the first <title> element.
func extractTitle(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			if z.Token().DataAtom != atom.Title {
				continue
			}
			var b strings.Builder
			for {
				tt := z.Next()
				if tt == html.TextToken {
					b.WriteString(z.Token().Data)
					continue
				}
				break
			}
			return collapse(b.String())
		}
	}
}

// extractText strips markup with regular expressions.
func extractText(markup string) string {
	s := scriptBlock.ReplaceAllString(markup, " ")
	s = styleBlock.ReplaceAllString(s, " ")
	s = commentNode.ReplaceAllString(s, " ")
	s = anyTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return collapse(s)
}

// collapse folds whitespace runs (including non-breaking spaces) into one
// space and trims the result.
func collapse(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
