// Package harness serves the render harness to the browser: the fixture
// PDF bytes and a static HTML page that renders them with pdf.js.
//
// One server per run, on a random local port so parallel workers never
// collide. The server is stateless; Close releases the port on every
// exit path.
package harness

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pdfvet/fixture"
)

// Config configures the harness server.
type Config struct {
	// PortMin/PortMax bound the random port range. Defaults: 20000–29999.
	PortMin int
	PortMax int

	// Scale is the integer render scale substituted into the harness
	// page. Default: 2.
	Scale int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PortMin <= 0 {
		c.PortMin = 20000
	}
	if c.PortMax <= 0 || c.PortMax < c.PortMin {
		c.PortMax = 29999
	}
	if c.Scale <= 0 {
		c.Scale = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server serves exactly two logical resources: GET /test.pdf and the
// harness page at GET / (alias /index.html). Everything else is 404.
type Server struct {
	cfg     Config
	ln      net.Listener
	srv     *http.Server
	url     string
	pdf     []byte
	pdfName string
	page    []byte

	closeOnce sync.Once
}

// portAttempts bounds the random-port search before giving up.
const portAttempts = 50

// Start reads the fixture, binds a random port in the configured range,
// and begins serving. Callers must defer Close.
func Start(fx fixture.Fixture, cfg Config) (*Server, error) {
	cfg.defaults()

	pdf, err := fx.Bytes()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		pdf:     pdf,
		pdfName: fx.Name,
		page:    renderPage(cfg.Scale),
	}

	ln, port, err := listenRandom(cfg.PortMin, cfg.PortMax)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.url = fmt.Sprintf("http://127.0.0.1:%d", port)
	s.srv = &http.Server{Handler: s.router()}

	go func() {
		if serveErr := s.srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			cfg.Logger.Error("harness: serve", "error", serveErr)
		}
	}()

	cfg.Logger.Debug("harness: serving", "url", s.url, "fixture", fx.Name)
	return s, nil
}

// URL returns the base URL of the running server.
func (s *Server) URL() string { return s.url }

// PDFURL returns the URL of the fixture payload.
func (s *Server) PDFURL() string { return s.url + "/test.pdf" }

// Close shuts the server down and releases the port. Safe to call more
// than once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.srv.Close()
	})
	return err
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/test.pdf", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", strconv.Itoa(len(s.pdf)))
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("inline; filename=%q", s.pdfName))
		w.Write(s.pdf)
	})

	serveIndex := func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(s.page)
	}
	r.Get("/", serveIndex)
	r.Get("/index.html", serveIndex)

	// chi default NotFound covers every other path.
	return r
}

// renderPage substitutes the render scale into the embedded harness HTML.
func renderPage(scale int) []byte {
	return []byte(strings.ReplaceAll(viewerHTML, "__SCALE__", strconv.Itoa(scale)))
}

// listenRandom binds a listener on a random loopback port within
// [min, max]. Random rather than :0 so the range stays predictable for
// firewall rules while still avoiding collisions across parallel runs.
func listenRandom(min, max int) (net.Listener, int, error) {
	span := max - min + 1
	for i := 0; i < portAttempts; i++ {
		port := min + rand.IntN(span)
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("harness: no free port in %d–%d after %d attempts",
		min, max, portAttempts)
}
