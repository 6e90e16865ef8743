package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// ErrTimeout marks a poll that exceeded its bound. Terminal: the DOM is
// left as-is for inspection and nothing is retried.
var ErrTimeout = errors.New("render: wait timed out")

// HarnessError reports that the harness set its error marker. It
// converts an in-browser rendering failure into a specific failure
// instead of a generic timeout.
type HarnessError struct {
	Text string
}

func (e *HarnessError) Error() string {
	return fmt.Sprintf("render: harness reported error: %s", e.Text)
}

// WaitConfig holds the stabilization timings. The delays are empirical
// constants tuned against observed flakiness; they guarantee nothing and
// residual nondeterminism is absorbed by the pixel tolerance at
// comparison time, not here.
type WaitConfig struct {
	// CompleteTimeout bounds the completion-marker poll. Default: 30s.
	CompleteTimeout time.Duration
	// DimensionTimeout bounds the canvas-dimension poll. Default: 15s.
	DimensionTimeout time.Duration
	// PollInterval between marker reads. Default: 100ms.
	PollInterval time.Duration
	// SettleDelay after the completion marker flips, letting paint catch
	// up with the DOM mutation. Default: 500ms.
	SettleDelay time.Duration
	// LayoutPasses is how many forced synchronous layout reads to issue.
	// Default: 3.
	LayoutPasses int
	// LayoutPause between forced layout reads. Default: 100ms.
	LayoutPause time.Duration
	// GuardBand is the final fixed delay before capture. Default: 250ms.
	GuardBand time.Duration
}

func (c *WaitConfig) defaults() {
	if c.CompleteTimeout <= 0 {
		c.CompleteTimeout = 30 * time.Second
	}
	if c.DimensionTimeout <= 0 {
		c.DimensionTimeout = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.LayoutPasses <= 0 {
		c.LayoutPasses = 3
	}
	if c.LayoutPause <= 0 {
		c.LayoutPause = 100 * time.Millisecond
	}
	if c.GuardBand <= 0 {
		c.GuardBand = 250 * time.Millisecond
	}
}

// Waiter runs the stabilization protocol against a Probe and tracks the
// session state machine. One Waiter per render session; not safe for
// concurrent use.
type Waiter struct {
	probe  Probe
	cfg    WaitConfig
	state  State
	pages  int
	logger *slog.Logger
}

// NewWaiter creates a Waiter in StateLoading.
func NewWaiter(probe Probe, cfg WaitConfig, logger *slog.Logger) *Waiter {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{probe: probe, cfg: cfg, state: StateLoading, logger: logger}
}

// State returns the current protocol state.
func (w *Waiter) State() State { return w.state }

// PageCount returns the harness-reported page count. Valid once
// WaitStable has returned nil.
func (w *Waiter) PageCount() int { return w.pages }

// markCaptured moves Stable → Captured. Called by the session after the
// first successful screenshot.
func (w *Waiter) markCaptured() {
	if w.state == StateStable {
		w.state = StateCaptured
	}
}

// WaitStable runs the full protocol:
//
//  1. poll the completion marker (bounded by CompleteTimeout)
//  2. fixed settle delay
//  3. poll until every canvas reports non-zero dimensions and the canvas
//     count matches the reported page count (bounded by DimensionTimeout)
//  4. a few forced synchronous layout reads with short pauses
//  5. final guard band
//
// The error marker is checked on every poll; seeing it moves the state
// to Errored and returns a *HarnessError. Exceeding a bound moves the
// state to TimedOut and returns an error wrapping ErrTimeout. Both are
// terminal: no retry, no partial capture.
func (w *Waiter) WaitStable(ctx context.Context) error {
	if w.state.Terminal() {
		return fmt.Errorf("render: wait on terminal state %s", w.state)
	}
	w.state = StatePagesRendering

	if err := w.waitComplete(ctx); err != nil {
		return err
	}

	if err := sleep(ctx, w.cfg.SettleDelay); err != nil {
		return w.timedOut("settle", err)
	}

	if err := w.waitDimensions(ctx); err != nil {
		return err
	}

	for i := 0; i < w.cfg.LayoutPasses; i++ {
		if err := w.probe.ForceLayout(ctx); err != nil {
			return w.timedOut("forced layout", err)
		}
		if err := sleep(ctx, w.cfg.LayoutPause); err != nil {
			return w.timedOut("layout pause", err)
		}
	}

	if err := sleep(ctx, w.cfg.GuardBand); err != nil {
		return w.timedOut("guard band", err)
	}

	w.state = StateStable
	w.logger.Debug("render: stable", "pages", w.pages)
	return nil
}

func (w *Waiter) waitComplete(ctx context.Context) error {
	deadline := time.Now().Add(w.cfg.CompleteTimeout)

	for {
		if failed, herr := w.checkError(ctx); failed {
			return herr
		}

		v, err := w.probe.BodyAttr(ctx, attrComplete)
		if err != nil {
			return w.timedOut("completion poll", err)
		}
		if v == "true" {
			raw, err := w.probe.BodyAttr(ctx, attrPageCount)
			if err != nil {
				return w.timedOut("page count read", err)
			}
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				w.state = StateErrored
				return &HarnessError{Text: fmt.Sprintf("bad page count marker %q", raw)}
			}
			if n == 0 {
				w.state = StateErrored
				return &HarnessError{Text: "harness reported zero pages"}
			}
			w.pages = n
			return nil
		}

		if time.Now().After(deadline) {
			return w.timedOut("completion marker",
				fmt.Errorf("not set within %s", w.cfg.CompleteTimeout))
		}
		if err := sleep(ctx, w.cfg.PollInterval); err != nil {
			return w.timedOut("completion poll", err)
		}
	}
}

// waitDimensions guards against the race where the completion marker
// flips before the last canvas's dimensions are committed.
func (w *Waiter) waitDimensions(ctx context.Context) error {
	deadline := time.Now().Add(w.cfg.DimensionTimeout)

	for {
		if failed, herr := w.checkError(ctx); failed {
			return herr
		}

		dims, err := w.probe.CanvasDims(ctx)
		if err != nil {
			return w.timedOut("dimension poll", err)
		}
		if len(dims) == w.pages && allPositive(dims) {
			return nil
		}

		if time.Now().After(deadline) {
			return w.timedOut("canvas dimensions",
				fmt.Errorf("%d/%d canvases stable within %s",
					stableCount(dims), w.pages, w.cfg.DimensionTimeout))
		}
		if err := sleep(ctx, w.cfg.PollInterval); err != nil {
			return w.timedOut("dimension poll", err)
		}
	}
}

func (w *Waiter) checkError(ctx context.Context) (bool, error) {
	v, err := w.probe.BodyAttr(ctx, attrError)
	if err != nil {
		return true, w.timedOut("error marker read", err)
	}
	if v != "true" {
		return false, nil
	}
	text, _ := w.probe.BodyAttr(ctx, attrErrorText)
	w.state = StateErrored
	return true, &HarnessError{Text: text}
}

func (w *Waiter) timedOut(step string, cause error) error {
	w.state = StateTimedOut
	return fmt.Errorf("render: %s: %v: %w", step, cause, ErrTimeout)
}

func allPositive(dims []Dim) bool {
	for _, d := range dims {
		if d.Width <= 0 || d.Height <= 0 {
			return false
		}
	}
	return true
}

func stableCount(dims []Dim) int {
	n := 0
	for _, d := range dims {
		if d.Width > 0 && d.Height > 0 {
			n++
		}
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
