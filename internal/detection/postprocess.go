package detection

import (
	"fmt"

	"github.com/MeKo-Tech/textpipe/internal/geometry"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
)

// probabilityMap extracts the (h, w) map of batch item i from a segmentation
// output shaped N x 1 x H x W, N x H x W x 1 or N x H x W.
func probabilityMap(out onnx.Tensor, i int, layout onnx.Layout) ([]float32, int, int, error) {
	item, err := out.Item(i)
	if err != nil {
		return nil, 0, 0, err
	}
	switch len(out.Shape) {
	case 3:
		return item.Data, int(out.Shape[1]), int(out.Shape[2]), nil
	case 4:
		c, h, w, err := out.ImageDims(layout)
		if err != nil {
			return nil, 0, 0, err
		}
		if c != 1 {
			// some exports emit several maps; the first is the text probability
			if layout == onnx.NHWC {
				m := make([]float32, h*w)
				for p := range m {
					m[p] = item.Data[p*c]
				}
				return m, h, w, nil
			}
			return item.Data[:h*w], h, w, nil
		}
		return item.Data, h, w, nil
	}
	return nil, 0, 0, fmt.Errorf("unexpected detection output shape %v", out.Shape)
}

// component is one 8-connected region of the binarized map.
type component struct {
	pixels []int
	sum    float64
}

// components labels 8-connected regions of prob >= thresh.
func components(prob []float32, w, h int, thresh float32) []component {
	visited := make([]bool, w*h)
	var comps []component
	queue := make([]int, 0, 64)
	for start, p := range prob {
		if p < thresh || visited[start] {
			continue
		}
		var c component
		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			c.pixels = append(c.pixels, idx)
			c.sum += float64(prob[idx])
			x, y := idx%w, idx/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if !visited[n] && prob[n] >= thresh {
						visited[n] = true
						queue = append(queue, n)
					}
				}
			}
		}
		comps = append(comps, c)
	}
	return comps
}

// outline returns the pixel-corner points of a component's border pixels.
func (c component) outline(w, h int, member func(int) bool) []geometry.Point {
	pts := make([]geometry.Point, 0, len(c.pixels))
	for _, idx := range c.pixels {
		x, y := idx%w, idx/w
		border := x == 0 || y == 0 || x == w-1 || y == h-1 ||
			!member(idx-1) || !member(idx+1) || !member(idx-w) || !member(idx+w)
		if !border {
			continue
		}
		fx, fy := float64(x), float64(y)
		pts = append(pts,
			geometry.Point{X: fx, Y: fy}, geometry.Point{X: fx + 1, Y: fy},
			geometry.Point{X: fx + 1, Y: fy + 1}, geometry.Point{X: fx, Y: fy + 1})
	}
	return pts
}

// postProcess converts a probability map into pixel-space polygons with
// their mean objectness score.
func postProcess(prob []float32, w, h int, opts Options) []rawDetection {
	comps := components(prob, w, h, float32(opts.BinThresh))
	labels := make([]int32, w*h)
	for i, c := range comps {
		for _, p := range c.pixels {
			labels[p] = int32(i + 1)
		}
	}

	out := make([]rawDetection, 0, len(comps))
	for i, c := range comps {
		if len(c.pixels) < opts.MinSize {
			continue
		}
		score := c.sum / float64(len(c.pixels))
		if score < opts.BoxThresh {
			continue
		}
		label := int32(i + 1)
		member := func(idx int) bool { return idx >= 0 && idx < len(labels) && labels[idx] == label }
		hull := geometry.ConvexHull(c.outline(w, h, member))
		if len(hull) < 3 {
			continue
		}
		var poly geometry.Polygon
		if opts.AssumeStraightPages {
			poly = geometry.Unclip(hull, opts.UnclipRatio).Bounds().Corners()
		} else {
			poly = geometry.MinAreaRect(geometry.Unclip(geometry.MinAreaRect(hull), opts.UnclipRatio))
		}
		out = append(out, rawDetection{polygon: poly, score: score})
	}
	return out
}

type rawDetection struct {
	polygon geometry.Polygon
	score   float64
}
