// Package extract reads the plain text of an input document.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// ErrNoText is returned when a document yields no text at all.
var ErrNoText = errors.New("no text extracted")

// Kind is the input kind derived from the file extension.
func Kind(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// File returns the text of a .pdf, .docx, .txt or .md file with line
// endings normalized.
func File(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch Kind(path) {
	case "pdf":
		text, err = PDF(path)
	case "docx":
		text, err = DOCX(path)
	case "txt", "md", "markdown":
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	default:
		return "", fmt.Errorf("unsupported input %q", filepath.Base(path))
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(normalizeNewlines(text))
	if text == "" {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrNoText)
	}
	return text, nil
}

func normalizeNewlines(s string) string {
	return strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(s)
}

// PDF joins the plain text of every page with a blank line.
func PDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		str, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(normalizeNewlines(str)); s != "" {
			pages = append(pages, s)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// DOCX returns one line per non-empty paragraph of the document body.
func DOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read docx: %w", err)
	}
	defer r.Close()

	paras, err := documentParagraphs(r.Editable().GetContent())
	if err != nil {
		return "", err
	}
	return strings.Join(paras, "\n"), nil
}

// documentParagraphs collects the w:t runs of each w:p element of a
// WordprocessingML body.
func documentParagraphs(xml string) ([]string, error) {
	root, err := xmlquery.Parse(strings.NewReader(xml))
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx xml: %w", err)
	}
	var paras []string
	for _, p := range xmlquery.Find(root, "//w:p") {
		var sb strings.Builder
		for _, n := range xmlquery.Find(p, ".//*") {
			if n.Prefix != "w" {
				continue
			}
			switch n.Data {
			case "t":
				sb.WriteString(n.InnerText())
			case "tab":
				sb.WriteByte('\t')
			}
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			paras = append(paras, s)
		}
	}
	return paras, nil
}
