package ocr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/detection"
	"github.com/MeKo-Tech/textpipe/internal/document"
	"github.com/MeKo-Tech/textpipe/internal/geometry"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
	"github.com/MeKo-Tech/textpipe/internal/recognition"
	"github.com/MeKo-Tech/textpipe/internal/testutil"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

var (
	testMean = [3]float64{0.5, 0.5, 0.5}
	testStd  = [3]float64{0.5, 0.5, 0.5}
)

func newTestPredictor(t *testing.T, text string, straight bool, opts Options) *Predictor {
	t.Helper()
	detDesc := arch.Descriptor{
		Name: "tiny_det", Family: arch.FamilyDBNet, Task: arch.TaskDetection,
		Config: arch.Config{Mean: testMean, Std: testStd, InputShape: arch.Shape{H: 128, W: 128, C: 3}, BatchSize: 2},
	}
	recoDesc := arch.Descriptor{
		Name: "tiny_reco", Family: arch.FamilyCRNN, Task: arch.TaskRecognition,
		Config: arch.Config{Mean: testMean, Std: testStd, InputShape: arch.Shape{H: 8, W: 32, C: 3}, BatchSize: 4, Vocab: "latin"},
	}
	vocab, err := arch.Vocab("latin")
	require.NoError(t, err)

	dm := model.New(detDesc, arch.BackendTensorFlow, testutil.DarkDetector(testMean, testStd, onnx.NHWC)).
		WithAssumeStraightPages(straight)
	det, err := detection.New(dm, detection.Config{
		Model: model.ResolveConfig(dm, model.Overrides{}), PreserveAspectRatio: true, SymmetricPad: true,
		Options: detection.DefaultOptions(),
	})
	require.NoError(t, err)

	rm := model.New(recoDesc, arch.BackendTensorFlow, testutil.TextRecognizer(text, vocab, true))
	reco, err := recognition.New(rm, recognition.Config{Model: model.ResolveConfig(rm, model.Overrides{})})
	require.NoError(t, err)

	p, err := New(det, reco, document.DefaultResolver(), opts)
	require.NoError(t, err)
	return p
}

func TestPredict_EndToEnd(t *testing.T) {
	p := newTestPredictor(t, "hello", true, Options{})
	page := testutil.WordsImage(200, 100,
		image.Rect(100, 20, 170, 40), image.Rect(20, 20, 80, 40), image.Rect(20, 70, 80, 90))

	doc, stats, err := p.PredictWithStats(context.Background(), []image.Image{page, testutil.Solid(50, 50, color.White)})
	require.NoError(t, err)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Words)

	first := doc.Pages[0]
	assert.Equal(t, [2]int{100, 200}, first.Dimensions)
	require.Len(t, first.Blocks, 2)
	require.Len(t, first.Blocks[0].Lines, 1)
	line := first.Blocks[0].Lines[0]
	require.Len(t, line.Words, 2)
	assert.Less(t, line.Words[0].Geometry.Box.MaxX, 0.5)
	assert.Greater(t, line.Words[1].Geometry.Box.MinX, 0.4)
	assert.Equal(t, "hello hello\n\nhello", first.Text())
	for _, w := range first.Words() {
		assert.True(t, w.Geometry.Valid())
		assert.False(t, w.Geometry.IsPolygon())
	}
	assert.Nil(t, first.Orientation.Value)
	assert.Nil(t, first.Language.Value)

	assert.Empty(t, doc.Pages[1].Blocks)
}

func TestPredict_Language(t *testing.T) {
	p := newTestPredictor(t, "the", true, Options{DetectLanguage: true})
	page := testutil.WordsImage(200, 100, image.Rect(20, 20, 80, 40))
	doc, err := p.Predict(context.Background(), []image.Image{page})
	require.NoError(t, err)
	require.NotNil(t, doc.Pages[0].Language.Value)
	assert.Equal(t, "en", *doc.Pages[0].Language.Value)
	assert.Equal(t, 1.0, *doc.Pages[0].Language.Confidence)
}

func TestPredict_StraightensRotatedPage(t *testing.T) {
	p := newTestPredictor(t, "x", false, Options{DetectOrientation: true, StraightenPages: true})
	page := imaging.Rotate(testutil.WordsImage(240, 120, image.Rect(40, 50, 200, 70)), 10, color.White)

	doc, err := p.Predict(context.Background(), []image.Image{page})
	require.NoError(t, err)
	pg := doc.Pages[0]
	require.NotNil(t, pg.Orientation.Value)
	assert.InDelta(t, 10, *pg.Orientation.Value, 4)
	b := page.Bounds()
	assert.NotEqual(t, [2]int{b.Dy(), b.Dx()}, pg.Dimensions, "straightened canvas is larger")
	require.Len(t, pg.Words(), 1)
}

func TestNew_RequiresBothPredictors(t *testing.T) {
	_, err := New(nil, nil, document.DefaultResolver(), Options{})
	assert.Error(t, err)
}

func rotatedRect(cx, cy, w, h, deg float64) geometry.Polygon {
	rad := deg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	var out geometry.Polygon
	for _, p := range [][2]float64{{-w / 2, -h / 2}, {w / 2, -h / 2}, {w / 2, h / 2}, {-w / 2, h / 2}} {
		out = append(out, geometry.Point{X: (cx + p[0]*c - p[1]*s) / 100, Y: (cy + p[0]*s + p[1]*c) / 100})
	}
	return out
}

func TestEstimateOrientation_FromPolygons(t *testing.T) {
	page := testutil.Solid(100, 100, color.White)
	geoms := []geometry.Geometry{
		geometry.FromPolygon(rotatedRect(50, 30, 40, 10, -10)),
		geometry.FromPolygon(rotatedRect(50, 60, 30, 8, -11)),
		geometry.FromPolygon(rotatedRect(50, 80, 30, 8, -9)),
	}
	angle, conf := estimateOrientation(page, geoms)
	assert.InDelta(t, 10, angle, 1e-6)
	assert.Equal(t, 1.0, conf)
}

func TestEstimateOrientation_FromBoxes(t *testing.T) {
	page := testutil.Solid(200, 100, color.White)
	geoms := []geometry.Geometry{
		geometry.FromBox(geometry.NewBox(0.1, 0.1, 0.4, 0.3)),
		geometry.FromBox(geometry.NewBox(0.5, 0.1, 0.9, 0.3)),
		// 20x40 pixels: taller than wide
		geometry.FromBox(geometry.NewBox(0.1, 0.5, 0.2, 0.9)),
	}
	angle, conf := estimateOrientation(page, geoms)
	assert.Equal(t, 0.0, angle)
	assert.InDelta(t, 2.0/3, conf, 1e-9)
}

func TestEstimateOrientation_BoxVotes(t *testing.T) {
	page := testutil.Solid(1000, 1000, color.White)
	wide := geometry.FromBox(geometry.NewBox(0.1, 0.1, 0.4, 0.15))
	tall := geometry.FromBox(geometry.NewBox(0.5, 0.1, 0.52, 0.15))

	tests := []struct {
		name      string
		geoms     []geometry.Geometry
		wantAngle float64
		wantConf  float64
	}{
		{"tie reads as horizontal", []geometry.Geometry{wide, tall}, 0, 0.5},
		{"tall majority", []geometry.Geometry{tall, wide, tall}, 90, 2.0 / 3},
		{"wide majority", []geometry.Geometry{tall, wide, wide, wide}, 0, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			angle, conf := estimateOrientation(page, tt.geoms)
			assert.Equal(t, tt.wantAngle, angle)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
		})
	}
}

func TestEstimateOrientation_EvenPolygonCountPicksObservedSkew(t *testing.T) {
	page := testutil.Solid(100, 100, color.White)
	geoms := []geometry.Geometry{
		geometry.FromPolygon(rotatedRect(50, 30, 40, 10, -2)),
		geometry.FromPolygon(rotatedRect(50, 70, 40, 10, -20)),
	}
	angle, conf := estimateOrientation(page, geoms)
	assert.True(t, math.Abs(angle-2) < 1e-6 || math.Abs(angle-20) < 1e-6, "got %v", angle)
	assert.Equal(t, 0.5, conf)
}

func TestPredict_MixedAspectWordsAreNotRotated(t *testing.T) {
	p := newTestPredictor(t, "x", true, Options{DetectOrientation: true, StraightenPages: true})
	page := testutil.WordsImage(400, 200, image.Rect(40, 40, 200, 80), image.Rect(260, 40, 290, 160))

	doc, err := p.Predict(context.Background(), []image.Image{page})
	require.NoError(t, err)
	pg := doc.Pages[0]
	require.NotNil(t, pg.Orientation.Value)
	assert.Equal(t, 0.0, *pg.Orientation.Value)
	assert.Equal(t, [2]int{200, 400}, pg.Dimensions)
	assert.Len(t, pg.Words(), 2)
}

func TestTextAngle_UsesLongerSide(t *testing.T) {
	// tall polygon: the long side is vertical after ordering
	p := rotatedRect(50, 50, 10, 40, 0).Scale(100, 100)
	assert.InDelta(t, 90, math.Abs(textAngle(p)), 1e-9)
}

func stripes(vertical bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for y := range 256 {
		for x := range 256 {
			k := y
			if vertical {
				k = x
			}
			if (k/8)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func TestTransitionOrientation(t *testing.T) {
	angle, conf := transitionOrientation(stripes(true))
	assert.Equal(t, 0.0, angle)
	assert.InDelta(t, 1, conf, 1e-9)

	angle, conf = transitionOrientation(stripes(false))
	assert.Equal(t, 90.0, angle)
	assert.InDelta(t, 1, conf, 1e-9)

	angle, conf = transitionOrientation(testutil.Solid(10, 10, color.White))
	assert.Equal(t, 0.0, angle)
	assert.Equal(t, 0.0, conf)
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		want language.Tag
	}{
		{"the cat and the dog", language.English},
		{"le chat et la souris", language.French},
		{"der Hund und die Katze", language.German},
		{"el perro y los gatos", language.Spanish},
		{"12345", language.Und},
	}
	for _, tc := range cases {
		got, _ := detectLanguage(tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.Solid(4, 3, color.White)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, err = LoadImage(filepath.Join(dir, "page.txt"))
	assert.Error(t, err)
	_, err = DecodeImage(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
	assert.True(t, IsSupportedImage("x.WEBP"))
}
