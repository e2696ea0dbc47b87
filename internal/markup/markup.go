// Package markup renders user-supplied markdown to sanitized HTML.
// The sanitized result is what gets stored, so raw markup never reaches
// the database or the templates.
package markup

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Raw HTML passes through the renderer untouched; bluemonday is the single
// authority on which tags survive.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// descriptionPolicy allows the richer tag set used for book descriptions:
// headings, lists, links, images and block elements.
var descriptionPolicy = buildDescriptionPolicy()

// reviewPolicy allows only inline emphasis and basic block quoting.
var reviewPolicy = buildReviewPolicy()

func buildDescriptionPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "em", "strong", "i", "b",
		"blockquote", "code", "pre", "hr", "br", "a", "img",
	)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowStandardURLs()
	return p
}

func buildReviewPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "em", "strong", "i", "b", "blockquote", "code", "pre")
	return p
}

// RenderDescription converts markdown to HTML sanitized with the
// description allow-list.
func RenderDescription(src string) (string, error) {
	return render(src, descriptionPolicy)
}

// RenderReview converts markdown to HTML sanitized with the narrower
// review allow-list.
func RenderReview(src string) (string, error) {
	return render(src, reviewPolicy)
}

func render(src string, policy *bluemonday.Policy) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}
