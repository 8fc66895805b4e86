package materialize

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// verifyPDF runs a structural parse over a downloaded .pdf artifact and
// returns a note for the index row. A failure is reported, not fatal: the
// artifact stays on disk so a human can inspect what the origin served.
func verifyPDF(path string) string {
	pages, err := api.PageCountFile(path)
	if err != nil {
		return fmt.Sprintf("pdf verify failed: %v", err)
	}
	return fmt.Sprintf("pdf ok: %d pages", pages)
}
