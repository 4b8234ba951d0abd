package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/textpipe/internal/document"
)

// ocrCmd runs the end-to-end pipeline.
var ocrCmd = &cobra.Command{
	Use:   "ocr [file...]",
	Short: "Read the text of images and PDFs",
	Long: `Detect, recognize and assemble the words of one or more pages.

Images (PNG, JPEG, BMP, TIFF, WebP) are read as one page each. PDFs are
expanded to one page per embedded page scan.

Examples:
  textpipe ocr scan.png
  textpipe ocr report.pdf --pages 1-3 --format json
  textpipe ocr photo.jpg --assume-straight-pages=false --straighten-pages`,
	Args: cobra.ArbitraryArgs,
	RunE: runOCR,
}

func init() {
	rootCmd.AddCommand(ocrCmd)
	addDetectionFlags(ocrCmd)
	addRecognitionFlags(ocrCmd)
	addDocumentFlags(ocrCmd)
	addOutputFlags(ocrCmd, outputFormatText, outputFormatJSON)
}

func runOCR(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd, outputFormatText, outputFormatJSON)
	if err != nil {
		return err
	}
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	pageRange, _ := cmd.Flags().GetString("pages")
	inputs, err := loadInputs(args, pageRange, true)
	if err != nil {
		return err
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}
	defer resolver.Close()

	ctx := cmd.Context()
	predictor, done, err := buildOCR(ctx, resolver, cfg)
	if err != nil {
		return err
	}
	defer done()
	doc, stats, err := predictor.PredictWithStats(ctx, imagesOf(inputs))
	if err != nil {
		return err
	}
	slog.Info("ocr completed", "pages", stats.Pages, "words", stats.Words, "duration_ms", stats.Duration.Milliseconds())

	return withOutput(cmd, func(w io.Writer) error {
		if format == outputFormatJSON {
			out := make([]document.OCROut, len(doc.Pages))
			for i, page := range doc.Pages {
				out[i] = document.Export(inputs[i].name, page)
			}
			return encode(w, format, out)
		}
		for i, page := range doc.Pages {
			if len(doc.Pages) > 1 {
				if _, err := fmt.Fprintf(w, "== %s ==\n", inputs[i].name); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintln(w, page.Text()); err != nil {
				return err
			}
		}
		return nil
	})
}
