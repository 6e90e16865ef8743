// Package textscan validates that a fixture PDF yields extractable text.
//
// Structure (page count, xref sanity) comes from pdfcpu; the text layer
// comes from the ledongthuc/pdf reader. Only two properties are
// asserted: page count > 0 and non-empty text. Character, word, email
// and line counts are diagnostics for the log, with no pass/fail
// attached — content-level correctness is deliberately unverified.
package textscan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	ltpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Config configures the scanner.
type Config struct {
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scanner extracts and validates text from PDF fixtures.
type Scanner struct {
	cfg Config
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	cfg.defaults()
	return &Scanner{cfg: cfg}
}

// Report is the extraction outcome for one fixture.
type Report struct {
	Path      string
	PageCount int
	Text      string

	// Diagnostics, logged but never asserted on.
	CharCount     int
	WordCount     int
	NonBlankLines int
	Emails        []string
}

// emailRe is a naive address scan for diagnostic logging only.
var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Scan reads the fixture, validates its structure with pdfcpu, extracts
// the text layer, and returns a Report. A zero page count or an empty
// text layer is a hard error — extraction must not silently report
// nothing for a non-empty file.
func (s *Scanner) Scan(ctx context.Context, path string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := s.cfg.Logger

	pages, err := validatedPageCount(path)
	if err != nil {
		return nil, err
	}
	if pages <= 0 {
		return nil, fmt.Errorf("textscan: %s: zero pages reported for a non-empty file", path)
	}

	text, err := extractText(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("textscan: %s: no textual output extracted", path)
	}

	r := &Report{
		Path:      path,
		PageCount: pages,
		Text:      text,
		CharCount: len([]rune(text)),
		WordCount: len(strings.Fields(text)),
		Emails:    emailRe.FindAllString(text, -1),
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			r.NonBlankLines++
		}
	}

	log.Info("textscan: extracted",
		"path", path,
		"pages", r.PageCount,
		"chars", r.CharCount,
		"words", r.WordCount,
		"non_blank_lines", r.NonBlankLines,
		"emails", len(r.Emails))
	return r, nil
}

// validatedPageCount reads and validates the document with pdfcpu and
// returns its page count.
func validatedPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("textscan: open %s: %w", path, err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return 0, fmt.Errorf("textscan: pdfcpu read %s: %w", path, err)
	}
	return pdfCtx.PageCount, nil
}

// extractText pulls the embedded text layer page by page. Scanned
// (image-only) PDFs have no text layer and come back empty.
func extractText(path string) (string, error) {
	f, r, err := ltpdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("textscan: open pdf %s: %w", path, err)
	}
	defer f.Close()

	fonts := make(map[string]*ltpdf.Font)
	var parts []string

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				pf := p.Font(name)
				fonts[name] = &pf
			}
		}
		text, pageErr := p.GetPlainText(fonts)
		if pageErr != nil {
			return "", fmt.Errorf("textscan: read page %d of %s: %w", i, path, pageErr)
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}

	return strings.Join(parts, "\n"), nil
}
