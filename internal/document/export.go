package document

import (
	"math"
)

// OCROut is the wire form of one page.
type OCROut struct {
	Name        string         `json:"name"`
	Orientation OrientationOut `json:"orientation"`
	Language    LanguageOut    `json:"language"`
	Dimensions  [2]int         `json:"dimensions"`
	Items       []ItemOut      `json:"items"`
}

type OrientationOut struct {
	Value      *float64 `json:"value"`
	Confidence *float64 `json:"confidence"`
}

type LanguageOut struct {
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
}

type ItemOut struct {
	Blocks []BlockOut `json:"blocks"`
}

type BlockOut struct {
	Geometry []float64 `json:"geometry"`
	Lines    []LineOut `json:"lines"`
}

type LineOut struct {
	Geometry []float64 `json:"geometry"`
	Words    []WordOut `json:"words"`
}

type WordOut struct {
	Value           string          `json:"value"`
	Geometry        []float64       `json:"geometry"`
	Confidence      float64         `json:"confidence"`
	CropOrientation CropOrientation `json:"crop_orientation"`
}

// Export renders p for the HTTP boundary. Confidences are rounded to two
// decimals here and nowhere else.
func Export(name string, p Page) OCROut {
	out := OCROut{
		Name:        name,
		Orientation: OrientationOut{Value: p.Orientation.Value, Confidence: round2Ptr(p.Orientation.Confidence)},
		Language:    LanguageOut{Value: p.Language.Value, Confidence: round2Ptr(p.Language.Confidence)},
		Dimensions:  p.Dimensions,
	}
	item := ItemOut{Blocks: make([]BlockOut, len(p.Blocks))}
	for i, b := range p.Blocks {
		bo := BlockOut{Geometry: b.Geometry.Flatten(), Lines: make([]LineOut, len(b.Lines))}
		for j, l := range b.Lines {
			lo := LineOut{Geometry: l.Geometry.Flatten(), Words: make([]WordOut, len(l.Words))}
			for k, w := range l.Words {
				lo.Words[k] = WordOut{
					Value:      w.Value,
					Geometry:   w.Geometry.Flatten(),
					Confidence: round2(w.Confidence),
					CropOrientation: CropOrientation{
						Value:      w.CropOrientation.Value,
						Confidence: round2Ptr(w.CropOrientation.Confidence),
					},
				}
			}
			bo.Lines[j] = lo
		}
		item.Blocks[i] = bo
	}
	out.Items = []ItemOut{item}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round2Ptr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round2(*v)
	return &r
}
