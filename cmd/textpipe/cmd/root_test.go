package cmd

import (
	"bytes"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/config"
	"github.com/MeKo-Tech/textpipe/internal/document"
	"github.com/MeKo-Tech/textpipe/internal/testutil"
	"github.com/MeKo-Tech/textpipe/internal/version"
)

// resetFlags restores every flag of c and its children to its default so
// commands can be executed repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, child := range c.Commands() {
		resetFlags(child)
	}
}

// execute runs the CLI against fake runners that read every crop as
// "hello" and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	reg := arch.Active()
	openRunner = testutil.Opener(reg, "hello")
	globalConfig = nil
	t.Cleanup(func() {
		openRunner = nil
		globalConfig = nil
		resetFlags(rootCmd)
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--models-dir", testutil.ModelDir(t, reg)}, args...))
	err := rootCmd.Execute()
	return stdout.String(), err
}

func writePage(t *testing.T) string {
	t.Helper()
	img := testutil.WordsImage(400, 200, image.Rect(40, 40, 160, 80), image.Rect(220, 40, 340, 80))
	path := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(path, testutil.PNG(t, img), 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "textpipe", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ocr", "detect", "recognize", "archs", "serve", "version", "config"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "textpipe ocr scan.png")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)
	var info version.Build
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Info().Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestArchsCommand(t *testing.T) {
	out, err := execute(t, "archs", "--task", "detection")
	require.NoError(t, err)
	assert.Contains(t, out, "db_resnet50")
	assert.Contains(t, out, "fast_tiny")
	assert.NotContains(t, out, "crnn_vgg16_bn")
	assert.Contains(t, out, "backend: tensorflow")
}

func TestArchsCommand_JSON(t *testing.T) {
	out, err := execute(t, "archs", "--task", "recognition", "--format", "json")
	require.NoError(t, err)
	var archs []archOut
	require.NoError(t, json.Unmarshal([]byte(out), &archs))
	require.NotEmpty(t, archs)
	for _, a := range archs {
		assert.Equal(t, "recognition", a.Task)
		assert.True(t, a.Config.InputShape.Valid(), a.Name)
	}
}

func TestArchsCommand_Errors(t *testing.T) {
	_, err := execute(t, "archs", "--task", "layout")
	assert.ErrorContains(t, err, "unknown task")

	_, err = execute(t, "archs", "--format", "csv")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestOCRCommand_Text(t *testing.T) {
	out, err := execute(t, "ocr", writePage(t))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "hello"), out)
}

func TestOCRCommand_JSONToFile(t *testing.T) {
	page := writePage(t)
	dest := filepath.Join(t.TempDir(), "out.json")
	out, err := execute(t, "ocr", page, "--format", "json", "--output", dest, "--resolve-blocks")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var pages []document.OCROut
	require.NoError(t, json.Unmarshal(data, &pages))
	require.Len(t, pages, 1)
	assert.Equal(t, page, pages[0].Name)
	assert.Equal(t, [2]int{200, 400}, pages[0].Dimensions)
	require.NotEmpty(t, pages[0].Items)
}

func TestOCRCommand_Errors(t *testing.T) {
	page := writePage(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no input", []string{"ocr"}, "no input files"},
		{"unknown arch", []string{"ocr", page, "--det-arch", "nope"}, "nope"},
		{"wrong task", []string{"ocr", page, "--det-arch", "crnn_vgg16_bn"}, "recognition architecture"},
		{"threshold", []string{"ocr", page, "--bin-thresh", "2"}, "bin_thresh"},
		{"missing file", []string{"ocr", "missing.png"}, "missing.png"},
		{"format", []string{"ocr", page, "--format", "xml"}, "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDetectCommand(t *testing.T) {
	out, err := execute(t, "detect", writePage(t), "--format", "json")
	require.NoError(t, err)
	var pages []detectionOut
	require.NoError(t, json.Unmarshal([]byte(out), &pages))
	require.Len(t, pages, 1)
	require.Len(t, pages[0].Geometries, 2)
	for _, g := range pages[0].Geometries {
		assert.Len(t, g, 4)
	}
	assert.Len(t, pages[0].Scores, 2)
}

func TestDetectCommand_Polygons(t *testing.T) {
	out, err := execute(t, "detect", writePage(t), "--format", "json", "--assume-straight-pages=false")
	require.NoError(t, err)
	var pages []detectionOut
	require.NoError(t, json.Unmarshal([]byte(out), &pages))
	require.Len(t, pages, 1)
	require.NotEmpty(t, pages[0].Geometries)
	assert.Len(t, pages[0].Geometries[0], 8)
}

func TestRecognizeCommand(t *testing.T) {
	crop := filepath.Join(t.TempDir(), "word.png")
	require.NoError(t, os.WriteFile(crop, testutil.PNG(t, testutil.WordsImage(128, 32, image.Rect(8, 8, 120, 24))), 0o600))

	out, err := execute(t, "recognize", crop)
	require.NoError(t, err)
	assert.Contains(t, out, crop+"\thello\t")
}

func TestRecognizeCommand_RejectsPDF(t *testing.T) {
	_, err := execute(t, "recognize", "scan.pdf")
	assert.ErrorContains(t, err, "PDF input is not accepted")
}

func TestConfigInitAndShow(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "textpipe.yaml")
	out, err := execute(t, "config", "init", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+dest)
	_, err = os.Stat(dest)
	require.NoError(t, err)

	out, err = execute(t, "--config", dest, "config", "show", "--format", "json")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.DefaultConfig().Detection.Arch, cfg.Detection.Arch)
}

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	addDetectionFlags(cmd)
	addRecognitionFlags(cmd)
	addDocumentFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--det-arch", "fast_small", "--reco-bs", "16", "--paragraph-break", "0.01", "--resolve-blocks",
	}))

	cfg := config.DefaultConfig()
	require.NoError(t, applyFlags(cmd, cfg))
	assert.Equal(t, "fast_small", cfg.Detection.Arch)
	assert.Equal(t, 16, cfg.Recognition.BatchSize)
	assert.InDelta(t, 0.01, cfg.Document.ParagraphBreak, 1e-12)
	assert.True(t, cfg.Document.ResolveBlocks)
	assert.Equal(t, config.DefaultConfig().Detection.BatchSize, cfg.Detection.BatchSize, "unchanged flags keep the config value")
}

func TestApplyServeFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().AddFlagSet(serveCmd.Flags())
	resetFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9000", "--rate-limit-enabled", "--burst", "3"}))
	t.Cleanup(func() { resetFlags(serveCmd) })

	cfg := config.DefaultConfig()
	applyServeFlags(cmd, cfg)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 3, cfg.Server.RateLimit.Burst)
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestNewOCRServer(t *testing.T) {
	openRunner = testutil.Opener(arch.Active(), "hello")
	t.Cleanup(func() { openRunner = nil })

	cfg := config.DefaultConfig()
	cfg.Models.Dir = testutil.ModelDir(t, arch.Active())
	s, err := newOCRServer(cfg)
	require.NoError(t, err)
	assert.Equal(t, arch.BackendTensorFlow, s.Registry().Backend())
	require.NoError(t, s.Close())

	cfg.Recognition.DictPath = filepath.Join(t.TempDir(), "missing.txt")
	_, err = newOCRServer(cfg)
	assert.ErrorContains(t, err, "load dictionary")
}
