package document

import (
	"cmp"
	"slices"

	"github.com/MeKo-Tech/textpipe/internal/geometry"
	"github.com/MeKo-Tech/textpipe/internal/recognition"
)

// lineOverlap is the share of the smaller height two boxes must overlap
// vertically to sit on the same line.
const lineOverlap = 0.5

// Resolver groups words into lines and blocks.
type Resolver struct {
	ResolveLines   bool
	ResolveBlocks  bool
	ParagraphBreak float64
}

// DefaultResolver resolves both lines and blocks.
func DefaultResolver() Resolver {
	return Resolver{ResolveLines: true, ResolveBlocks: true, ParagraphBreak: DefaultParagraphBreak}
}

// Words pairs geometries with recognitions index by index. orientations
// may be nil.
func Words(geoms []geometry.Geometry, recs []recognition.Result, orientations []CropOrientation) ([]Word, error) {
	if len(geoms) != len(recs) {
		return nil, &AlignmentError{Detections: len(geoms), Recognitions: len(recs)}
	}
	if orientations != nil && len(orientations) != len(geoms) {
		return nil, &AlignmentError{Detections: len(geoms), Recognitions: len(orientations)}
	}
	words := make([]Word, len(geoms))
	for i, g := range geoms {
		words[i] = Word{Value: recs[i].Value, Geometry: g, Confidence: recs[i].Confidence}
		if orientations != nil {
			words[i].CropOrientation = orientations[i]
		}
	}
	return words, nil
}

// BuildPage assembles a page of the given (height, width).
func (r Resolver) BuildPage(geoms []geometry.Geometry, recs []recognition.Result, dims [2]int) (Page, error) {
	words, err := Words(geoms, recs, nil)
	if err != nil {
		return Page{}, err
	}
	return r.Page(words, dims), nil
}

// Page groups already paired words.
func (r Resolver) Page(words []Word, dims [2]int) Page {
	var lines []Line
	if r.ResolveLines {
		lines = resolveLines(words)
	} else {
		lines = make([]Line, len(words))
		for i, w := range words {
			lines[i] = newLine([]Word{w})
		}
	}

	var blocks []Block
	if r.ResolveBlocks {
		blocks = resolveBlocks(lines, r.ParagraphBreak)
	} else {
		blocks = make([]Block, len(lines))
		for i, l := range lines {
			blocks[i] = newBlock([]Line{l})
		}
	}
	return Page{Blocks: blocks, Dimensions: dims}
}

// resolveLines sorts words by vertical center and appends each to the
// running line while it overlaps enough vertically.
func resolveLines(words []Word) []Line {
	if len(words) == 0 {
		return nil
	}
	sorted := slices.Clone(words)
	slices.SortStableFunc(sorted, func(a, b Word) int {
		return cmp.Compare(a.Geometry.Bounds().Center().Y, b.Geometry.Bounds().Center().Y)
	})

	var lines []Line
	current := []Word{sorted[0]}
	box := sorted[0].Geometry.Bounds()
	for _, w := range sorted[1:] {
		wb := w.Geometry.Bounds()
		overlap := min(box.MaxY, wb.MaxY) - max(box.MinY, wb.MinY)
		if overlap >= lineOverlap*min(box.Height(), wb.Height()) && overlap > 0 {
			current = append(current, w)
			box = box.Union(wb)
			continue
		}
		lines = append(lines, newLine(current))
		current = []Word{w}
		box = wb
	}
	return append(lines, newLine(current))
}

func newLine(words []Word) Line {
	slices.SortStableFunc(words, func(a, b Word) int {
		return cmp.Compare(a.Geometry.Bounds().MinX, b.Geometry.Bounds().MinX)
	})
	gs := make([]geometry.Geometry, len(words))
	for i, w := range words {
		gs[i] = w.Geometry
	}
	return Line{Geometry: geometry.Enclose(gs), Words: words}
}

// resolveBlocks merges consecutive lines whose vertical gap is below
// paragraphBreak.
func resolveBlocks(lines []Line, paragraphBreak float64) []Block {
	if len(lines) == 0 {
		return nil
	}
	sorted := slices.Clone(lines)
	slices.SortStableFunc(sorted, func(a, b Line) int {
		return cmp.Compare(a.Geometry.Bounds().MinY, b.Geometry.Bounds().MinY)
	})

	var blocks []Block
	current := []Line{sorted[0]}
	bottom := sorted[0].Geometry.Bounds().MaxY
	for _, l := range sorted[1:] {
		lb := l.Geometry.Bounds()
		if lb.MinY-bottom < paragraphBreak {
			current = append(current, l)
			bottom = max(bottom, lb.MaxY)
			continue
		}
		blocks = append(blocks, newBlock(current))
		current = []Line{l}
		bottom = lb.MaxY
	}
	return append(blocks, newBlock(current))
}

func newBlock(lines []Line) Block {
	gs := make([]geometry.Geometry, len(lines))
	for i, l := range lines {
		gs[i] = l.Geometry
	}
	return Block{Geometry: geometry.Enclose(gs), Lines: lines}
}
