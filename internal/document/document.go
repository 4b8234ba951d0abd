// Package document assembles recognized words into lines, blocks and
// pages.
package document

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/textpipe/internal/geometry"
)

// DefaultParagraphBreak is the relative vertical gap under which two
// lines belong to the same block.
const DefaultParagraphBreak = 0.0035

// AlignmentError reports a mismatch between detected geometries and
// recognized strings.
type AlignmentError struct {
	Detections   int
	Recognitions int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment mismatch: %d detections, %d recognitions", e.Detections, e.Recognitions)
}

// CropOrientation is the estimated rotation of a word crop in degrees.
type CropOrientation struct {
	Value      int      `json:"value"`
	Confidence *float64 `json:"confidence"`
}

// Word is one recognized string with its page-relative geometry.
type Word struct {
	Value           string
	Geometry        geometry.Geometry
	Confidence      float64
	CropOrientation CropOrientation
}

// Line is a left-to-right run of words.
type Line struct {
	Geometry geometry.Geometry
	Words    []Word
}

// Text joins the words with single spaces.
func (l Line) Text() string {
	parts := make([]string, len(l.Words))
	for i, w := range l.Words {
		parts[i] = w.Value
	}
	return strings.Join(parts, " ")
}

// Block is a group of vertically adjacent lines.
type Block struct {
	Geometry geometry.Geometry
	Lines    []Line
}

// Orientation is the estimated page rotation in degrees.
type Orientation struct {
	Value      *float64
	Confidence *float64
}

// Language is the estimated page language as a BCP 47 tag.
type Language struct {
	Value      *string
	Confidence *float64
}

// Page is the structured result for one image.
type Page struct {
	Blocks      []Block
	Orientation Orientation
	Language    Language
	// Dimensions is (height, width) in pixels.
	Dimensions [2]int
}

// Words returns all words in reading order.
func (p Page) Words() []Word {
	var out []Word
	for _, b := range p.Blocks {
		for _, l := range b.Lines {
			out = append(out, l.Words...)
		}
	}
	return out
}

// Text renders the page with one line per row and a blank line between
// blocks.
func (p Page) Text() string {
	blocks := make([]string, len(p.Blocks))
	for i, b := range p.Blocks {
		lines := make([]string, len(b.Lines))
		for j, l := range b.Lines {
			lines[j] = l.Text()
		}
		blocks[i] = strings.Join(lines, "\n")
	}
	return strings.Join(blocks, "\n\n")
}

// Document is an ordered set of pages.
type Document struct {
	Pages []Page
}

// Text renders every page separated by form feeds.
func (d Document) Text() string {
	pages := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		pages[i] = p.Text()
	}
	return strings.Join(pages, "\f")
}
