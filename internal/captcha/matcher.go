// Package captcha implements the visual challenge subsystem: tile
// segmentation, signature matching, and the bounded solve loop.
package captcha

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

// CardCount is the number of selectable tiles the challenge presents.
const CardCount = 6

// probeCount is the number of symbols in the question strip (left/right).
const probeCount = 2

// ColorClass is a coarse tile color grouping used as a secondary signal.
type ColorClass int

// Supported color classes.
const (
	ColorUnknown ColorClass = iota
	ColorRed
	ColorBlack
)

// Geometry locates the question strip and the card row inside a challenge
// capture. The exact layout is site-specific; callers may swap in their own
// segmentation by providing a GeometryFunc.
type Geometry struct {
	Question image.Rectangle
	Cards    []image.Rectangle
}

// GeometryFunc derives a Geometry from the capture bounds.
type GeometryFunc func(bounds image.Rectangle) Geometry

// DefaultGeometry segments the fixed challenge layout proportionally: the
// question strip spans the centered top band, the six cards split the
// bottom band into equal columns.
func DefaultGeometry(bounds image.Rectangle) Geometry {
	w := bounds.Dx()
	h := bounds.Dy()
	questionH := h * 35 / 100
	question := image.Rect(
		bounds.Min.X+w/4,
		bounds.Min.Y,
		bounds.Min.X+w*3/4,
		bounds.Min.Y+questionH,
	)
	cards := make([]image.Rectangle, 0, CardCount)
	cardTop := bounds.Min.Y + questionH
	cardW := w / CardCount
	for i := 0; i < CardCount; i++ {
		cards = append(cards, image.Rect(
			bounds.Min.X+i*cardW,
			cardTop,
			bounds.Min.X+(i+1)*cardW,
			bounds.Max.Y,
		))
	}
	return Geometry{Question: question, Cards: cards}
}

// Region is one detected tile: its index, bounding box, and signature.
type Region struct {
	Index     int
	Bounds    image.Rectangle
	Signature Signature
}

// MatchPair binds one question symbol to the card judged equivalent.
type MatchPair struct {
	// ProbeIndex is 0 for the left question symbol, 1 for the right.
	ProbeIndex int
	// Region is the index of the matched card.
	Region int
	// Confidence is the signature similarity in [0, 1].
	Confidence float64
}

// MatchResult is the matcher output: the detected regions (indexes shared
// with the live page's card elements) and the ordered match pairs.
type MatchResult struct {
	Regions []Region
	Pairs   []MatchPair
}

// MatcherConfig tunes signature extraction and pairing.
type MatcherConfig struct {
	// Threshold is the minimum similarity for a valid pairing.
	Threshold float64
	// SignatureSize is the side length of the downsampled signature grid.
	SignatureSize int
	// BinarizeLevel separates glyph ink from background in grayscale.
	BinarizeLevel uint8
	// MinInkRatio below which a region is treated as undetectable.
	MinInkRatio float64
}

func (c MatcherConfig) withDefaults() MatcherConfig {
	if c.Threshold <= 0 {
		c.Threshold = 0.60
	}
	if c.SignatureSize <= 0 {
		c.SignatureSize = 24
	}
	if c.BinarizeLevel == 0 {
		c.BinarizeLevel = 127
	}
	if c.MinInkRatio <= 0 {
		c.MinInkRatio = 0.01
	}
	return c
}

// Matcher finds the answer to a challenge capture. Implementations must be
// deterministic: the same image always yields the same result.
type Matcher interface {
	LocateAndMatch(img image.Image) (MatchResult, error)
}

// GridMatcher matches question symbols against a fixed-geometry card grid
// by binarized-bitmap overlap, with tile color as a secondary signal.
type GridMatcher struct {
	cfg      MatcherConfig
	geometry GeometryFunc
}

// NewGridMatcher builds a matcher with the given tuning; geometry defaults
// to DefaultGeometry when nil.
func NewGridMatcher(cfg MatcherConfig, geometry GeometryFunc) *GridMatcher {
	if geometry == nil {
		geometry = DefaultGeometry
	}
	return &GridMatcher{cfg: cfg.withDefaults(), geometry: geometry}
}

// LocateAndMatch segments the capture, computes signatures, and pairs each
// question symbol with its most similar card. Ties resolve to the lowest
// card index; the two pairs never select the same card.
func (m *GridMatcher) LocateAndMatch(img image.Image) (MatchResult, error) {
	if img == nil {
		return MatchResult{}, fmt.Errorf("%w: nil image", tender.ErrDetectionIncomplete)
	}
	bounds := img.Bounds()
	geo := m.geometry(bounds)
	if len(geo.Cards) < CardCount {
		return MatchResult{}, fmt.Errorf("%w: %d of %d cards segmented",
			tender.ErrDetectionIncomplete, len(geo.Cards), CardCount)
	}

	probes, err := m.questionSignatures(img, geo.Question)
	if err != nil {
		return MatchResult{}, err
	}

	regions := make([]Region, 0, len(geo.Cards))
	for i, rect := range geo.Cards {
		if !rect.In(bounds) || rect.Empty() {
			return MatchResult{}, fmt.Errorf("%w: card %d outside capture bounds",
				tender.ErrDetectionIncomplete, i)
		}
		sig := m.signature(img, rect)
		if sig.InkRatio < m.cfg.MinInkRatio {
			return MatchResult{}, fmt.Errorf("%w: card %d is blank",
				tender.ErrDetectionIncomplete, i)
		}
		regions = append(regions, Region{Index: i, Bounds: rect, Signature: sig})
	}

	pairs, err := m.pair(probes, regions)
	if err != nil {
		return MatchResult{}, err
	}
	return MatchResult{Regions: regions, Pairs: pairs}, nil
}

func (m *GridMatcher) questionSignatures(img image.Image, question image.Rectangle) ([probeCount]Signature, error) {
	var probes [probeCount]Signature
	if !question.In(img.Bounds()) || question.Empty() {
		return probes, fmt.Errorf("%w: question strip outside capture bounds",
			tender.ErrDetectionIncomplete)
	}
	mid := question.Min.X + question.Dx()/2
	halves := [probeCount]image.Rectangle{
		image.Rect(question.Min.X, question.Min.Y, mid, question.Max.Y),
		image.Rect(mid, question.Min.Y, question.Max.X, question.Max.Y),
	}
	for i, half := range halves {
		sig := m.signature(img, half)
		if sig.InkRatio < m.cfg.MinInkRatio {
			return probes, fmt.Errorf("%w: question symbol %d is blank",
				tender.ErrDetectionIncomplete, i)
		}
		probes[i] = sig
	}
	return probes, nil
}

func (m *GridMatcher) pair(probes [probeCount]Signature, regions []Region) ([]MatchPair, error) {
	scores := make([][]float64, probeCount)
	for p := range probes {
		scores[p] = make([]float64, len(regions))
		for i, region := range regions {
			scores[p][i] = probes[p].Similarity(region.Signature)
		}
	}

	best := bestIndex(scores[0], -1)
	second := bestIndex(scores[1], best)
	pairs := []MatchPair{
		{ProbeIndex: 0, Region: best, Confidence: scores[0][best]},
		{ProbeIndex: 1, Region: second, Confidence: scores[1][second]},
	}
	for _, pair := range pairs {
		if pair.Confidence < m.cfg.Threshold {
			return nil, fmt.Errorf("%w: symbol %d best score %.3f below %.3f",
				tender.ErrNoMatch, pair.ProbeIndex, pair.Confidence, m.cfg.Threshold)
		}
	}
	return pairs, nil
}

// bestIndex returns the index of the highest score, skipping exclude.
// Strictly-greater comparison keeps the lowest index on ties.
func bestIndex(scores []float64, exclude int) int {
	best := -1
	bestScore := -1.0
	for i, score := range scores {
		if i == exclude {
			continue
		}
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

// Signature is a compact visual descriptor: a binarized downsampled ink
// bitmap plus an ink density and a coarse color class.
type Signature struct {
	Grid     []bool
	Size     int
	InkRatio float64
	Color    ColorClass
}

// Similarity is the ink-overlap ratio of the two signature bitmaps
// (intersection over union), halved when the color classes disagree.
// Background cells carry no weight so sparse glyphs stay discriminative.
func (s Signature) Similarity(other Signature) float64 {
	if s.Size == 0 || s.Size != other.Size || len(s.Grid) != len(other.Grid) {
		return 0
	}
	inter, union := 0, 0
	for i := range s.Grid {
		a, b := s.Grid[i], other.Grid[i]
		if a && b {
			inter++
		}
		if a || b {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	score := float64(inter) / float64(union)
	if s.Color != ColorUnknown && other.Color != ColorUnknown && s.Color != other.Color {
		score /= 2
	}
	return score
}

// signature downsamples the region to a SignatureSize^2 grid by block
// averaging, binarizes it, and classifies the dominant ink color.
func (m *GridMatcher) signature(img image.Image, rect image.Rectangle) Signature {
	size := m.cfg.SignatureSize
	grid := make([]bool, size*size)
	ink := 0
	redContent := 0
	content := 0

	for gy := 0; gy < size; gy++ {
		for gx := 0; gx < size; gx++ {
			block := blockRect(rect, gx, gy, size)
			gray, red, hasContent := m.blockStats(img, block)
			if gray < int(m.cfg.BinarizeLevel) {
				grid[gy*size+gx] = true
				ink++
			}
			if hasContent {
				content++
				if red {
					redContent++
				}
			}
		}
	}

	sig := Signature{
		Grid:     grid,
		Size:     size,
		InkRatio: float64(ink) / float64(len(grid)),
	}
	if content > 0 {
		if float64(redContent)/float64(content) > 0.2 {
			sig.Color = ColorRed
		} else {
			sig.Color = ColorBlack
		}
	}
	return sig
}

// blockRect maps signature cell (gx, gy) back onto the source region.
func blockRect(rect image.Rectangle, gx, gy, size int) image.Rectangle {
	x0 := rect.Min.X + rect.Dx()*gx/size
	x1 := rect.Min.X + rect.Dx()*(gx+1)/size
	y0 := rect.Min.Y + rect.Dy()*gy/size
	y1 := rect.Min.Y + rect.Dy()*(gy+1)/size
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return image.Rect(x0, y0, x1, y1)
}

// blockStats averages one signature block: mean gray level, whether the
// block's content pixels skew red, and whether any non-background pixel
// exists at all.
func (m *GridMatcher) blockStats(img image.Image, block image.Rectangle) (int, bool, bool) {
	var graySum, count, redVotes, contentPixels int
	for y := block.Min.Y; y < block.Max.Y; y++ {
		for x := block.Min.X; x < block.Max.X; x++ {
			r, g, b := rgb8(img.At(x, y))
			gray := (299*r + 587*g + 114*b) / 1000
			graySum += gray
			count++
			if gray < 200 { // non-background pixel
				contentPixels++
				if r > 120 && r > g+40 && r > b+40 {
					redVotes++
				}
			}
		}
	}
	if count == 0 {
		return 255, false, false
	}
	red := contentPixels > 0 && redVotes*2 > contentPixels
	return graySum / count, red, contentPixels > 0
}

func rgb8(c color.Color) (int, int, int) {
	r, g, b, _ := c.RGBA()
	return int(r >> 8), int(g >> 8), int(b >> 8)
}
