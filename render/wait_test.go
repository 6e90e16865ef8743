package render

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeProbe scripts the harness's observable DOM state so the waiter's
// state machine is testable without a browser.
type fakeProbe struct {
	mu    sync.Mutex
	attrs map[string]string
	dims  []Dim
	// completeAfter: the completion marker reads "" until this many
	// polls of it have happened.
	completeAfter int
	completePolls int
	// dimsAfter: dims reads return partial until this many polls.
	dimsAfter int
	dimsPolls int
	partial   []Dim
	layouts   int
}

func (f *fakeProbe) BodyAttr(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == attrComplete {
		f.completePolls++
		if f.completePolls <= f.completeAfter {
			return "", nil
		}
	}
	return f.attrs[name], nil
}

func (f *fakeProbe) CanvasDims(_ context.Context) ([]Dim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dimsPolls++
	if f.dimsPolls <= f.dimsAfter {
		return f.partial, nil
	}
	return f.dims, nil
}

func (f *fakeProbe) ForceLayout(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layouts++
	return nil
}

func (f *fakeProbe) set(name, val string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrs[name] = val
}

func fastWait() WaitConfig {
	return WaitConfig{
		CompleteTimeout:  500 * time.Millisecond,
		DimensionTimeout: 300 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		SettleDelay:      time.Millisecond,
		LayoutPasses:     3,
		LayoutPause:      time.Millisecond,
		GuardBand:        time.Millisecond,
	}
}

func twoPageProbe() *fakeProbe {
	return &fakeProbe{
		attrs: map[string]string{
			attrComplete:  "true",
			attrPageCount: "2",
		},
		dims: []Dim{{Width: 1224, Height: 1584}, {Width: 1224, Height: 1584}},
	}
}

func TestWaiter_HappyPath(t *testing.T) {
	// WHAT: Marker set, two positive-dimension canvases → Stable, page
	// count 2, forced layout passes executed.
	// WHY: The stabilization protocol must run every step before
	// declaring the page capturable.
	p := twoPageProbe()
	p.completeAfter = 2
	p.dimsAfter = 1
	p.partial = []Dim{{Width: 1224, Height: 1584}, {Width: 0, Height: 0}}

	w := NewWaiter(p, fastWait(), nil)
	if w.State() != StateLoading {
		t.Fatalf("initial state: %s", w.State())
	}

	if err := w.WaitStable(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if w.State() != StateStable {
		t.Fatalf("state after wait: %s", w.State())
	}
	if w.PageCount() != 2 {
		t.Fatalf("page count: %d", w.PageCount())
	}
	if p.layouts != 3 {
		t.Fatalf("forced layout passes: %d", p.layouts)
	}

	w.markCaptured()
	if w.State() != StateCaptured {
		t.Fatalf("state after capture: %s", w.State())
	}
}

func TestWaiter_HarnessError(t *testing.T) {
	// WHAT: The error marker converts a rendering failure into a typed
	// *HarnessError with the harness's error text, state Errored.
	p := &fakeProbe{attrs: map[string]string{
		attrError:     "true",
		attrErrorText: "InvalidPDFException: bad xref",
	}}

	w := NewWaiter(p, fastWait(), nil)
	err := w.WaitStable(context.Background())

	var herr *HarnessError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *HarnessError, got %v", err)
	}
	if herr.Text != "InvalidPDFException: bad xref" {
		t.Fatalf("error text: %q", herr.Text)
	}
	if w.State() != StateErrored {
		t.Fatalf("state: %s", w.State())
	}
}

func TestWaiter_CompletionTimeout(t *testing.T) {
	// WHAT: Completion marker never set → ErrTimeout, state TimedOut.
	// WHY: A hung harness must surface as a hard failure, not block.
	p := &fakeProbe{attrs: map[string]string{}}
	cfg := fastWait()
	cfg.CompleteTimeout = 30 * time.Millisecond

	w := NewWaiter(p, cfg, nil)
	err := w.WaitStable(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if w.State() != StateTimedOut {
		t.Fatalf("state: %s", w.State())
	}
}

func TestWaiter_DimensionTimeout(t *testing.T) {
	// WHAT: A canvas stuck at zero dimensions past the bound → TimedOut.
	// WHY: Guards the race where the marker fires before the last
	// canvas's dimensions commit; a capture then would be garbage.
	p := twoPageProbe()
	p.dims = []Dim{{Width: 1224, Height: 1584}, {Width: 0, Height: 0}}
	cfg := fastWait()
	cfg.DimensionTimeout = 30 * time.Millisecond

	w := NewWaiter(p, cfg, nil)
	err := w.WaitStable(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if w.State() != StateTimedOut {
		t.Fatalf("state: %s", w.State())
	}
}

func TestWaiter_ErrorDuringDimensionPoll(t *testing.T) {
	// WHAT: Error marker appearing after completion still moves to
	// Errored rather than timing out.
	p := twoPageProbe()
	p.dims = nil
	p.dimsAfter = 1000

	w := NewWaiter(p, fastWait(), nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.set(attrError, "true")
		p.set(attrErrorText, "render aborted")
	}()

	err := w.WaitStable(context.Background())
	var herr *HarnessError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *HarnessError, got %v", err)
	}
	if w.State() != StateErrored {
		t.Fatalf("state: %s", w.State())
	}
}

func TestWaiter_BadPageCountMarker(t *testing.T) {
	p := &fakeProbe{attrs: map[string]string{
		attrComplete:  "true",
		attrPageCount: "xyz",
	}}
	w := NewWaiter(p, fastWait(), nil)
	err := w.WaitStable(context.Background())
	var herr *HarnessError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *HarnessError for bad marker, got %v", err)
	}
}

func TestWaiter_ZeroPages(t *testing.T) {
	// WHAT: A harness claiming zero pages is an error, never "stable".
	p := &fakeProbe{attrs: map[string]string{
		attrComplete:  "true",
		attrPageCount: "0",
	}}
	w := NewWaiter(p, fastWait(), nil)
	err := w.WaitStable(context.Background())
	var herr *HarnessError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *HarnessError for zero pages, got %v", err)
	}
}

func TestWaiter_TerminalStateRejectsWait(t *testing.T) {
	// WHAT: Errored and TimedOut are terminal; no retry through the same
	// waiter.
	p := &fakeProbe{attrs: map[string]string{attrError: "true"}}
	w := NewWaiter(p, fastWait(), nil)
	if err := w.WaitStable(context.Background()); err == nil {
		t.Fatal("expected first wait to fail")
	}
	if err := w.WaitStable(context.Background()); err == nil {
		t.Fatal("expected wait on terminal state to fail")
	}
}

func TestWaiter_ContextCancel(t *testing.T) {
	p := &fakeProbe{attrs: map[string]string{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWaiter(p, fastWait(), nil)
	err := w.WaitStable(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("cancelled context should surface as timeout, got %v", err)
	}
	if w.State() != StateTimedOut {
		t.Fatalf("state: %s", w.State())
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateLoading:        "loading",
		StatePagesRendering: "pages-rendering",
		StateStable:         "stable",
		StateCaptured:       "captured",
		StateErrored:        "errored",
		StateTimedOut:       "timed-out",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Fatalf("State(%d).String() = %s, want %s", st, st.String(), want)
		}
	}
	if !StateErrored.Terminal() || !StateTimedOut.Terminal() {
		t.Fatal("errored/timed-out must be terminal")
	}
	if StateStable.Terminal() {
		t.Fatal("stable must not be terminal")
	}
}
