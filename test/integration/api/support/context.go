// Package support holds the step definitions of the API feature suite.
package support

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/config"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/server"
	"github.com/MeKo-Tech/textpipe/internal/testutil"
)

// upload is one file of the next multipart request.
type upload struct {
	name string
	data []byte
}

// TestContext holds the state of one scenario. The server starts lazily on
// the first request so configuration steps can run before it.
type TestContext struct {
	Config     *config.Config
	Text       string
	TempDir    string
	HTTPServer *httptest.Server
	Server     *server.Server

	Files  []upload
	Fields map[string]string

	LastStatus  int
	LastBody    []byte
	LastHeaders http.Header
	// Messages are the websocket replies of the last stream.
	Messages [][]byte
}

// NewTestContext creates an empty scenario context.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "textpipe-api-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &TestContext{
		Config:  config.DefaultConfig(),
		Text:    "hello",
		TempDir: dir,
		Fields:  map[string]string{},
	}, nil
}

// Cleanup stops the server and removes scenario files.
func (tc *TestContext) Cleanup() error {
	if tc.HTTPServer != nil {
		tc.HTTPServer.Close()
		tc.HTTPServer = nil
	}
	if tc.Server != nil {
		_ = tc.Server.Close()
		tc.Server = nil
	}
	return os.RemoveAll(tc.TempDir)
}

// URL returns the base URL of the running server, starting it if needed.
func (tc *TestContext) URL() (string, error) {
	if tc.HTTPServer == nil {
		if err := tc.start(); err != nil {
			return "", err
		}
	}
	return tc.HTTPServer.URL, nil
}

func (tc *TestContext) start() error {
	backend, err := tc.Config.BackendValue()
	if err != nil {
		return err
	}
	reg := arch.NewRegistry(backend)
	modelDir := filepath.Join(tc.TempDir, "models")
	if err := writeModelFiles(reg, modelDir); err != nil {
		return err
	}

	rc := tc.Config.ToResolverConfig()
	rc.Weights.Dir = modelDir
	rc.Weights.Download = false
	rc.Open = testutil.Opener(reg, tc.Text)
	resolver, err := model.NewResolver(reg, rc)
	if err != nil {
		return err
	}
	s, err := server.NewServer(server.ConfigFrom(tc.Config), resolver)
	if err != nil {
		return err
	}
	tc.Server = s
	tc.HTTPServer = httptest.NewServer(s.Handler())
	return nil
}

// writeModelFiles stands in an ONNX file for every architecture of reg.
func writeModelFiles(reg *arch.Registry, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, task := range []arch.Task{arch.TaskDetection, arch.TaskRecognition} {
		for _, name := range reg.Names(task) {
			if err := os.WriteFile(filepath.Join(dir, string(name)+".onnx"), []byte("onnx"), 0o600); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
