package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// recognizeCmd reads pre-cropped word images.
var recognizeCmd = &cobra.Command{
	Use:   "recognize [crop...]",
	Short: "Read word crops",
	Long: `Run a recognition architecture on images that each hold one word.

Examples:
  textpipe recognize word1.png word2.png
  textpipe recognize crop.png --reco-arch parseq --format json`,
	Args: cobra.ArbitraryArgs,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	addRecognitionFlags(recognizeCmd)
	addOutputFlags(recognizeCmd, outputFormatText, outputFormatJSON)
}

type recognitionOut struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

func runRecognize(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd, outputFormatText, outputFormatJSON)
	if err != nil {
		return err
	}
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	inputs, err := loadInputs(args, "", false)
	if err != nil {
		return err
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}
	defer resolver.Close()

	ctx := cmd.Context()
	predictor, err := buildRecognizer(ctx, resolver, cfg)
	if err != nil {
		return err
	}
	defer closeModel(predictor.Model())
	results, err := predictor.Predict(ctx, imagesOf(inputs))
	if err != nil {
		return err
	}

	out := make([]recognitionOut, len(results))
	for i, res := range results {
		out[i] = recognitionOut{Name: inputs[i].name, Value: res.Value, Confidence: res.Confidence}
	}
	return withOutput(cmd, func(w io.Writer) error {
		if format == outputFormatJSON {
			return encode(w, format, out)
		}
		for _, r := range out {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%.2f\n", r.Name, r.Value, r.Confidence); err != nil {
				return err
			}
		}
		return nil
	})
}
