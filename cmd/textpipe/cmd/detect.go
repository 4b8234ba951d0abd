package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// detectCmd runs text detection only.
var detectCmd = &cobra.Command{
	Use:   "detect [file...]",
	Short: "Localize words without reading them",
	Long: `Run a detection architecture and print the relative geometry of every
word. Straight pages yield boxes (xmin, ymin, xmax, ymax); with
--assume-straight-pages=false each word is a four-point polygon.

Examples:
  textpipe detect page.png
  textpipe detect page.png --det-arch fast_base --format json`,
	Args: cobra.ArbitraryArgs,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	addDetectionFlags(detectCmd)
	addOutputFlags(detectCmd, outputFormatText, outputFormatJSON)
}

type detectionOut struct {
	Name       string      `json:"name"`
	Geometries [][]float64 `json:"geometries"`
	Scores     []float64   `json:"scores"`
}

func runDetect(cmd *cobra.Command, args []string) error {
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
	predictor, err := buildDetector(ctx, resolver, cfg)
	if err != nil {
		return err
	}
	defer closeModel(predictor.Model())
	results, err := predictor.Predict(ctx, imagesOf(inputs))
	if err != nil {
		return err
	}

	out := make([]detectionOut, len(results))
	for i, res := range results {
		out[i] = detectionOut{Name: inputs[i].name, Geometries: [][]float64{}, Scores: []float64{}}
		for _, d := range res.Detections {
			out[i].Geometries = append(out[i].Geometries, d.Geometry.Flatten())
			out[i].Scores = append(out[i].Scores, d.Score)
		}
	}
	return withOutput(cmd, func(w io.Writer) error {
		if format == outputFormatJSON {
			return encode(w, format, out)
		}
		for _, page := range out {
			if _, err := fmt.Fprintf(w, "%s: %d words\n", page.Name, len(page.Geometries)); err != nil {
				return err
			}
			for j, g := range page.Geometries {
				coords := make([]string, len(g))
				for k, v := range g {
					coords[k] = fmt.Sprintf("%.4f", v)
				}
				if _, err := fmt.Fprintf(w, "  %s (%.2f)\n", strings.Join(coords, " "), page.Scores[j]); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
