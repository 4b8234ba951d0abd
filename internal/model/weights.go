package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/textpipe/internal/arch"
)

// WeightLoadError wraps a failure to obtain pretrained weights.
type WeightLoadError struct {
	Arch arch.Name
	URL  string
	Err  error
}

func (e *WeightLoadError) Error() string {
	return fmt.Sprintf("load weights for %s from %s: %v", e.Arch, e.URL, e.Err)
}

func (e *WeightLoadError) Unwrap() error { return e.Err }

// WeightLoader locates ONNX exports on disk and downloads missing ones.
type WeightLoader struct {
	// Dir holds <name>.onnx files.
	Dir string
	// BaseURL is joined with relative descriptor URLs.
	BaseURL string
	// Download enables fetching missing files.
	Download bool
	Client   *http.Client
}

// Path returns where the export for desc is stored.
func (w *WeightLoader) Path(desc arch.Descriptor) string {
	return filepath.Join(w.Dir, string(desc.Name)+".onnx")
}

// URL resolves the download location of desc.
func (w *WeightLoader) URL(desc arch.Descriptor) (string, error) {
	ref, err := url.Parse(desc.Config.URL)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if w.BaseURL == "" {
		return "", errors.New("no base URL configured for relative weight location")
	}
	return strings.TrimRight(w.BaseURL, "/") + "/" + strings.TrimLeft(desc.Config.URL, "/"), nil
}

// Fetch returns the local path of the export, downloading it first when it
// is missing and downloads are enabled. Errors are not retried.
func (w *WeightLoader) Fetch(ctx context.Context, desc arch.Descriptor) (string, error) {
	path := w.Path(desc)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	src, err := w.URL(desc)
	if err != nil {
		return "", &WeightLoadError{Arch: desc.Name, URL: desc.Config.URL, Err: err}
	}
	if !w.Download {
		return "", &WeightLoadError{Arch: desc.Name, URL: src, Err: fmt.Errorf("%s not found and downloads are disabled", path)}
	}
	if err := w.download(ctx, src, path); err != nil {
		return "", &WeightLoadError{Arch: desc.Name, URL: src, Err: err}
	}
	return path, nil
}

func (w *WeightLoader) download(ctx context.Context, src, dst string) error {
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	slog.Info("weights downloaded", "url", src, "path", dst, "bytes", n)
	return nil
}
