package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageRange(t *testing.T) {
	tests := []struct {
		name        string
		pageRange   string
		want        []int
		expectError bool
	}{
		{name: "empty range returns nil", pageRange: "", want: nil},
		{name: "single page", pageRange: "1", want: []int{1}},
		{name: "multiple single pages", pageRange: "1,3,5", want: []int{1, 3, 5}},
		{name: "simple range", pageRange: "1-5", want: []int{1, 2, 3, 4, 5}},
		{name: "mixed pages and ranges", pageRange: "1,3-5,7", want: []int{1, 3, 4, 5, 7}},
		{name: "range with spaces", pageRange: " 1 - 3 , 5 ", want: []int{1, 2, 3, 5}},
		{name: "invalid page number", pageRange: "abc", expectError: true},
		{name: "zero page", pageRange: "0", expectError: true},
		{name: "reversed range", pageRange: "5-1", expectError: true},
		{name: "empty token", pageRange: "1,,2", expectError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePageRange(tt.pageRange)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7\n...")))
	assert.False(t, IsPDF([]byte("\x89PNG")))
	assert.False(t, IsPDF(nil))
}

func TestExtractPages_ErrorCases(t *testing.T) {
	_, err := ExtractPages(bytes.NewReader([]byte("not a pdf")), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to extract images from PDF")

	_, err = ExtractPages(bytes.NewReader(nil), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid page range")

	_, err = ExtractPagesFile("/non/existent/file.pdf", "")
	require.Error(t, err)
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestExtractPages_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	writePNG(t, first, 40, 30)
	writePNG(t, second, 20, 50)
	out := filepath.Join(dir, "scan.pdf")
	require.NoError(t, api.ImportImagesFile([]string{first, second}, out, nil, nil))

	pages, err := ExtractPagesFile(out, "")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, image.Rect(0, 0, 40, 30), pages[0].Image.Bounds())
	assert.Equal(t, 2, pages[1].Number)

	pages, err = ExtractPagesFile(out, "2")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].Number)
}
