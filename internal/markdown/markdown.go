// Package markdown renders Markdown output and splits documents into
// heading-delimited sections.
package markdown

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

func ToHTML(md []byte) string {
	opts := html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	}
	return render(md, opts)
}

// Document renders md as a complete HTML page with the given title.
func Document(md []byte, title string) string {
	opts := html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: title,
		Head:  []byte(`<meta charset="utf-8">` + "\n"),
	}
	return render(md, opts)
}

func render(md []byte, opts html.RendererOptions) string {
	renderer := html.NewRenderer(opts)
	ext := parser.CommonExtensions | parser.Attributes
	p := parser.NewWithExtensions(ext)
	doc := p.Parse(md)
	return string(markdown.Render(doc, renderer))
}
