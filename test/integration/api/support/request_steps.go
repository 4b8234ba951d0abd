package support

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/MeKo-Tech/textpipe/internal/testutil"
)

// RegisterRequestSteps registers the steps that configure and send
// requests.
func (tc *TestContext) RegisterRequestSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a textpipe server whose recognizer reads "([^"]*)"$`, tc.aServerReading)
	sc.Step(`^the server allows (\d+) requests? per minute with a burst of (\d+)$`, tc.theServerAllows)
	sc.Step(`^the "([^"]*)" backend$`, tc.theBackend)
	sc.Step(`^a page named "([^"]*)" with (\d+) words?$`, tc.aPageWithWords)
	sc.Step(`^a blank page named "([^"]*)"$`, tc.aBlankPage)
	sc.Step(`^a corrupt file named "([^"]*)"$`, tc.aCorruptFile)
	sc.Step(`^a PDF named "([^"]*)" with (\d+) pages?$`, tc.aPDFWithPages)
	sc.Step(`^the form field "([^"]*)" is "([^"]*)"$`, tc.theFormFieldIs)
	sc.Step(`^I POST the files to "([^"]*)"$`, tc.iPOSTTheFilesTo)
	sc.Step(`^I GET "([^"]*)"$`, tc.iGET)
	sc.Step(`^I send (\d+) requests to "([^"]*)"$`, tc.iSendRequestsTo)
	sc.Step(`^I stream the files over the websocket$`, tc.iStreamTheFiles)
	sc.Step(`^I stream the files over the websocket with options '([^']*)'$`, tc.iStreamTheFilesWithOptions)
}

func (tc *TestContext) aServerReading(text string) error {
	tc.Text = text
	return nil
}

func (tc *TestContext) theServerAllows(rpm, burst int) error {
	tc.Config.Server.RateLimit.Enabled = true
	tc.Config.Server.RateLimit.RequestsPerMinute = rpm
	tc.Config.Server.RateLimit.Burst = burst
	return nil
}

func (tc *TestContext) theBackend(name string) error {
	tc.Config.Backend = name
	return tc.Config.Validate()
}

// wordsPage lays n dark word boxes out in rows of four.
func wordsPage(n int) image.Image {
	const w, h = 800, 400
	var words []image.Rectangle
	for i := 0; i < n; i++ {
		col, row := i%4, i/4
		x, y := 40+col*190, 40+row*80
		words = append(words, image.Rect(x, y, x+140, y+40))
	}
	return testutil.WordsImage(w, h, words...)
}

func (tc *TestContext) aPageWithWords(name string, n int) error {
	data, err := encodePNG(wordsPage(n))
	if err != nil {
		return err
	}
	tc.Files = append(tc.Files, upload{name: name, data: data})
	return nil
}

func (tc *TestContext) aBlankPage(name string) error {
	data, err := encodePNG(testutil.Solid(200, 100, color.White))
	if err != nil {
		return err
	}
	tc.Files = append(tc.Files, upload{name: name, data: data})
	return nil
}

func (tc *TestContext) aCorruptFile(name string) error {
	tc.Files = append(tc.Files, upload{name: name, data: []byte("definitely not an image")})
	return nil
}

func (tc *TestContext) aPDFWithPages(name string, pages int) error {
	var images []string
	for i := 0; i < pages; i++ {
		data, err := encodePNG(wordsPage(i + 1))
		if err != nil {
			return err
		}
		path := filepath.Join(tc.TempDir, fmt.Sprintf("page-%d.png", i))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		images = append(images, path)
	}
	pdfPath := filepath.Join(tc.TempDir, name)
	if err := api.ImportImagesFile(images, pdfPath, nil, nil); err != nil {
		return fmt.Errorf("build PDF: %w", err)
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return err
	}
	tc.Files = append(tc.Files, upload{name: name, data: data})
	return nil
}

func (tc *TestContext) theFormFieldIs(key, value string) error {
	tc.Fields[key] = value
	return nil
}

func (tc *TestContext) iPOSTTheFilesTo(path string) error {
	base, err := tc.URL()
	if err != nil {
		return err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range tc.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, f := range tc.Files {
		fw, err := mw.CreateFormFile("files", f.name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(f.data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return tc.do(req)
}

func (tc *TestContext) iGET(path string) error {
	base, err := tc.URL()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) iSendRequestsTo(n int, path string) error {
	for i := 0; i < n; i++ {
		if err := tc.iPOSTTheFilesTo(path); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.LastStatus = resp.StatusCode
	tc.LastBody = data
	tc.LastHeaders = resp.Header
	return nil
}

func (tc *TestContext) iStreamTheFiles() error {
	return tc.iStreamTheFilesWithOptions("")
}

// iStreamTheFilesWithOptions sends the options as a text frame, then each
// file as a binary frame, and collects one reply per file.
func (tc *TestContext) iStreamTheFilesWithOptions(options string) error {
	base, err := tc.URL()
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws/ocr", nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	replies := len(tc.Files)
	if options != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(options)); err != nil {
			return err
		}
	}
	for _, f := range tc.Files {
		if err := conn.WriteMessage(websocket.BinaryMessage, f.data); err != nil {
			return err
		}
	}
	tc.Messages = nil
	for i := 0; i < replies; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read reply %d: %w", i+1, err)
		}
		tc.Messages = append(tc.Messages, data)
	}
	return nil
}
