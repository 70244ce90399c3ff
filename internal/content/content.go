package content

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// Every message body that enters the view goes through it, whether it came
// from the history endpoint or a live push.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts a message body written in markdown into sanitized HTML for
// the embedding view layer. Rendering failures fall back to the escaped
// plain text so a message never disappears because of its formatting.
func Render(input string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return Escape(input)
	}
	return strings.TrimSpace(policy.Sanitize(buf.String()))
}
