package webtools

import (
	"strings"

	"golang.org/x/net/html"
)

// skipSubtree marks elements whose entire contents are dropped, not just the
// tags themselves.
var skipSubtree = map[string]bool{"script": true, "style": true}

// SanitizeHTML strips markup from an HTML document and returns its visible
// text: script and style blocks are removed with their contents, remaining
// tags are dropped, entities are unescaped, and runs of whitespace collapse
// to a single space.
func SanitizeHTML(value string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(value))
	var parts []string
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skipSubtree[strings.ToLower(string(name))] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skipSubtree[strings.ToLower(string(name))] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				parts = append(parts, string(tokenizer.Text()))
			}
		}
	}
}
