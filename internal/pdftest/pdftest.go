// Package pdftest builds minimal but structurally valid PDFs for tests:
// correct xref offsets, one Helvetica Tj text run per page. Not a PDF
// writer — just enough for parsers and the render harness to accept.
package pdftest

import (
	"fmt"
	"strings"
)

// BuildTextPDF returns a PDF with one page per entry in pageTexts, each
// page showing its text at a fixed position.
func BuildTextPDF(pageTexts ...string) []byte {
	n := len(pageTexts)
	if n == 0 {
		pageTexts = []string{""}
		n = 1
	}

	// Object layout: 1 catalog, 2 pages, 3 font, then per page i
	// (0-based): 4+2i page, 5+2i content.
	total := 3 + 2*n

	var kids []string
	for i := 0; i < n; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}

	var b strings.Builder
	offsets := make([]int, total+1)

	b.WriteString("%PDF-1.4\n")

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	fmt.Fprintf(&b, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), n)

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	for i, text := range pageTexts {
		pageObj := 4 + 2*i
		contentObj := 5 + 2*i

		offsets[pageObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>\nendobj\n",
			pageObj, contentObj)

		stream := fmt.Sprintf("BT\n/F1 12 Tf\n72 720 Td\n(%s) Tj\nET", escape(text))
		offsets[contentObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n",
			contentObj, len(stream), stream)
	}

	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", total+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= total; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		total+1, xrefOffset)

	return []byte(b.String())
}

func escape(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, "(", `\(`)
	text = strings.ReplaceAll(text, ")", `\)`)
	return text
}
