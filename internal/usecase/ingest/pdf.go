package ingest

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// Page is the text of one PDF page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// extractPages returns the plain text of every page. Pages without text are kept
// so that page numbers stay aligned with the document.
func extractPages(data []byte) (pages []Page, err error) {
	// the parser panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	n := r.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
