// Package pdf turns PDF uploads into page images for OCR.
package pdf

import (
	"bytes"
	"cmp"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"
)

// Page is the scan of one PDF page.
type Page struct {
	Number int
	Image  image.Image
}

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// ExtractPagesFile opens path and extracts its page images.
func ExtractPagesFile(path, pageRange string) ([]Page, error) {
	f, err := os.Open(path) //nolint:gosec // G304: user-supplied input file
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("closing pdf", "path", path, "error", err)
		}
	}()
	return ExtractPages(f, pageRange)
}

// ExtractPages returns the largest embedded image of every selected page,
// ordered by page number. Pages without images are skipped. An empty
// pageRange selects all pages.
func ExtractPages(rs io.ReadSeeker, pageRange string) ([]Page, error) {
	numbers, err := parsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}
	var selected []string
	for _, n := range numbers {
		selected = append(selected, strconv.Itoa(n))
	}

	largest := make(map[int]image.Image)
	digest := func(img model.Image, _ bool, _ int) error {
		decoded, _, err := image.Decode(img)
		if err != nil {
			slog.Debug("skipping undecodable pdf image", "page", img.PageNr, "name", img.Name, "error", err)
			return nil
		}
		if cur, ok := largest[img.PageNr]; !ok || area(decoded) > area(cur) {
			largest[img.PageNr] = decoded
		}
		return nil
	}
	if err := api.ExtractImages(rs, selected, digest, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	pages := make([]Page, 0, len(largest))
	for n, img := range largest {
		pages = append(pages, Page{Number: n, Image: img})
	}
	slices.SortFunc(pages, func(a, b Page) int { return cmp.Compare(a.Number, b.Number) })
	return pages, nil
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}
	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either a single page token (e.g., "3") or a range token (e.g., "1-5").
func parseRangeToken(part string) ([]int, error) {
	if lo, hi, ok := strings.Cut(part, "-"); ok {
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || start < 1 {
			return nil, fmt.Errorf("invalid start page: %s", lo)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", hi)
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil || page < 1 {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}
