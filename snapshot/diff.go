package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// CompareOptions bound how different a candidate may be before the
// artifact fails.
type CompareOptions struct {
	// Threshold is the normalized per-pixel channel distance (0–1) above
	// which a pixel counts as differing. Absorbs anti-aliasing noise.
	// Default: 0.3.
	Threshold float64
	// MaxDiffPixels is the number of differing pixels tolerated.
	// Default: 1000.
	MaxDiffPixels int
}

func (o *CompareOptions) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = 0.3
	}
	if o.MaxDiffPixels <= 0 {
		o.MaxDiffPixels = 1000
	}
}

// DiffResult is the outcome of one pixel comparison.
type DiffResult struct {
	Width  int
	Height int
	// DiffPixels is the count of pixels whose normalized channel
	// distance exceeded the threshold.
	DiffPixels int
	// DimsMismatch is set when baseline and candidate sizes differ; the
	// pixel count is then meaningless and the artifact fails outright.
	DimsMismatch bool

	maxDiffPixels int
}

// Pass reports whether the candidate is within bounds.
func (r *DiffResult) Pass() bool {
	return !r.DimsMismatch && r.DiffPixels <= r.maxDiffPixels
}

// DiffError reports an artifact exceeding its diff bounds. Scoped to one
// artifact; sibling comparisons continue.
type DiffError struct {
	Path   string
	Result *DiffResult
}

func (e *DiffError) Error() string {
	if e.Result.DimsMismatch {
		return fmt.Sprintf("snapshot: %s: candidate dimensions differ from baseline", e.Path)
	}
	return fmt.Sprintf("snapshot: %s: %d pixels differ (max %d)",
		e.Path, e.Result.DiffPixels, e.Result.maxDiffPixels)
}

// Diff decodes two PNGs and counts pixels whose normalized channel
// distance exceeds opts.Threshold. It does not fail the comparison
// itself; callers inspect Pass().
func Diff(baselinePNG, candidatePNG []byte, opts CompareOptions) (*DiffResult, error) {
	opts.defaults()

	base, err := png.Decode(bytes.NewReader(baselinePNG))
	if err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	cand, err := png.Decode(bytes.NewReader(candidatePNG))
	if err != nil {
		return nil, fmt.Errorf("decode candidate: %w", err)
	}

	bb, cb := base.Bounds(), cand.Bounds()
	res := &DiffResult{
		Width:         bb.Dx(),
		Height:        bb.Dy(),
		maxDiffPixels: opts.MaxDiffPixels,
	}
	if bb.Dx() != cb.Dx() || bb.Dy() != cb.Dy() {
		res.DimsMismatch = true
		return res, nil
	}

	res.DiffPixels = countDiff(base, cand, opts.Threshold)
	return res, nil
}

// countDiff compares pixel by pixel. Distance is the largest normalized
// channel delta (RGBA, 16-bit as returned by image.Color.RGBA).
func countDiff(a, b image.Image, threshold float64) int {
	ab, bb := a.Bounds(), b.Bounds()
	diff := 0
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ar, ag, abl, aa := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			br, bg, bbl, ba := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			d := maxDelta(ar, br)
			if v := maxDelta(ag, bg); v > d {
				d = v
			}
			if v := maxDelta(abl, bbl); v > d {
				d = v
			}
			if v := maxDelta(aa, ba); v > d {
				d = v
			}
			if float64(d)/0xffff > threshold {
				diff++
			}
		}
	}
	return diff
}

func maxDelta(x, y uint32) uint32 {
	if x > y {
		return x - y
	}
	return y - x
}
