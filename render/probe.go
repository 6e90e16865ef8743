package render

import "context"

// Dim is the pixel size a canvas reports.
type Dim struct {
	Width  int
	Height int
}

// Probe reads the harness's observable DOM state. The real
// implementation evaluates JS through the browser; tests drive the
// waiter with a fake. Polling these four reads is the only channel
// between the driver and the harness.
type Probe interface {
	// BodyAttr returns the named attribute of <body>, "" when unset.
	BodyAttr(ctx context.Context, name string) (string, error)

	// CanvasDims returns the width/height of every page canvas under
	// #viewer, in page order.
	CanvasDims(ctx context.Context) ([]Dim, error)

	// ForceLayout triggers a synchronous layout recomputation by reading
	// box metrics, defeating lazy layout coalescing.
	ForceLayout(ctx context.Context) error
}

// Harness marker attributes, set by the viewer page.
const (
	attrComplete  = "data-render-complete"
	attrPageCount = "data-page-count"
	attrError     = "data-render-error"
	attrErrorText = "data-error-text"
)
