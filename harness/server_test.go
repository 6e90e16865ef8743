package harness

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hazyhaar/pdfvet/fixture"
)

func startTestServer(t *testing.T, pdf []byte) *Server {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.pdf")
	if err := os.WriteFile(path, pdf, 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Start(fixture.Fixture{Name: "sample.pdf", Path: path}, Config{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServer_PDFRoute(t *testing.T) {
	// WHAT: /test.pdf serves the fixture bytes with correct headers.
	// WHY: pdf.js needs a well-formed content type and length to fetch.
	payload := []byte("%PDF-1.4\nfake body\n%%EOF\n")
	s := startTestServer(t, payload)

	resp, err := http.Get(s.PDFURL())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content-type: %s", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != strconv.Itoa(len(payload)) {
		t.Fatalf("content-length: %s, want %d", cl, len(payload))
	}
	cd := resp.Header.Get("Content-Disposition")
	if !strings.Contains(cd, `"sample.pdf"`) {
		t.Fatalf("content-disposition should name the fixture: %s", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(payload) {
		t.Fatal("served bytes differ from fixture")
	}
}

func TestServer_IndexRoutes(t *testing.T) {
	// WHAT: / and /index.html both serve the harness page with the scale
	// substituted in.
	s := startTestServer(t, []byte("%PDF-1.4\n"))

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(s.URL() + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status: %d", path, resp.StatusCode)
		}
		html := string(body)
		if !strings.Contains(html, "data-render-complete") && !strings.Contains(html, "renderAll") {
			t.Fatalf("%s does not look like the harness page", path)
		}
		if strings.Contains(html, "__SCALE__") {
			t.Fatalf("%s: scale placeholder not substituted", path)
		}
		if !strings.Contains(html, "const SCALE = 2") {
			t.Fatalf("%s: default scale 2 not present", path)
		}
	}
}

func TestServer_NotFound(t *testing.T) {
	s := startTestServer(t, []byte("%PDF-1.4\n"))

	resp, err := http.Get(s.URL() + "/other")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status for unknown path: %d", resp.StatusCode)
	}
}

func TestServer_RandomPortInRange(t *testing.T) {
	// WHAT: The bound port falls inside the configured range.
	// WHY: Parallel workers rely on the range contract to avoid clashes
	// with fixed-port services.
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Start(fixture.Fixture{Name: "a.pdf", Path: path},
		Config{PortMin: 24000, PortMax: 24100})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	var port int
	if _, err := fmt.Sscanf(s.URL(), "http://127.0.0.1:%d", &port); err != nil {
		t.Fatalf("parse url %s: %v", s.URL(), err)
	}
	if port < 24000 || port > 24100 {
		t.Fatalf("port %d outside 24000–24100", port)
	}
}

func TestServer_CloseReleasesPort(t *testing.T) {
	s := startTestServer(t, []byte("%PDF-1.4\n"))
	url := s.URL()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Double close is safe.
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := http.Get(url + "/test.pdf"); err == nil {
		t.Fatal("expected request to fail after Close")
	}
}

func TestServer_MissingFixture(t *testing.T) {
	_, err := Start(fixture.Fixture{
		Name: "gone.pdf",
		Path: filepath.Join(t.TempDir(), "gone.pdf"),
	}, Config{})
	if err == nil {
		t.Fatal("expected error for missing fixture file")
	}
	if !strings.Contains(err.Error(), "gone.pdf") {
		t.Fatalf("error should name the fixture path: %v", err)
	}
}
