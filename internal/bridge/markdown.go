// ABOUTME: Markdown rendering of assistant text for clients that display HTML
// ABOUTME: Uses goldmark with GitHub-flavored extensions; raw HTML in the source is not passed through

package bridge

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Renderer turns assistant markdown into HTML.
type Renderer interface {
	Render(markdown string) (string, error)
}

// MarkdownRenderer renders with goldmark.
type MarkdownRenderer struct {
	md goldmark.Markdown
}

// NewMarkdownRenderer creates a renderer with tables, strikethrough,
// autolinks and task lists enabled.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Render converts markdown to an HTML fragment.
func (r *MarkdownRenderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
