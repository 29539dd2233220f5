// Package parser extracts per-page text from PDF documents.
package parser

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPages returns the plain text of each page of a PDF, in page order.
// Pages that fail text extraction yield an empty string rather than failing
// the document: downstream stages tolerate gaps, and scanned pages without
// a text layer are common.
func ExtractPages(path string) ([]string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return pages, nil
}
