// Package testutil provides synthetic pages and fake model runners for
// tests that must not depend on ONNX Runtime or model files.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextImageConfig holds configuration for rendered text images.
type TextImageConfig struct {
	Lines      []string
	Width      int
	Height     int
	Background color.Color
	Foreground color.Color
	Rotation   float64 // degrees, counter-clockwise
}

// DefaultTextImageConfig returns a single black line on white.
func DefaultTextImageConfig() TextImageConfig {
	return TextImageConfig{
		Lines:      []string{"Sample Text"},
		Width:      320,
		Height:     240,
		Background: color.White,
		Foreground: color.Black,
	}
}

// TextImage renders the configured lines centered with basicfont.
func TextImage(cfg TextImageConfig) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: cfg.Background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Src: &image.Uniform{C: cfg.Foreground}, Face: face}
	lineHeight := face.Metrics().Height.Ceil()
	startY := (cfg.Height - len(cfg.Lines)*lineHeight) / 2
	for i, line := range cfg.Lines {
		x := (cfg.Width - font.MeasureString(face, line).Ceil()) / 2
		drawer.Dot = fixed.P(x, startY+(i+1)*lineHeight)
		drawer.DrawString(line)
	}
	if cfg.Rotation != 0 {
		return imaging.Rotate(img, cfg.Rotation, cfg.Background)
	}
	return img
}

// WordsImage draws filled black rectangles on a white page. Fake
// detectors report each rectangle as one word.
func WordsImage(w, h int, words ...image.Rectangle) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	for _, r := range words {
		draw.Draw(img, r, image.Black, image.Point{}, draw.Src)
	}
	return img
}

// Solid returns a w x h image of one color.
func Solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// PNG encodes img.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
