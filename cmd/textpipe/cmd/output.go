package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func addOutputFlags(cmd *cobra.Command, formats ...string) {
	cmd.Flags().StringP("format", "f", formats[0], fmt.Sprintf("output format %v", formats))
	cmd.Flags().StringP("output", "o", "", "write results to this file instead of stdout")
}

// outputFormat returns the --format value if cmd accepts it.
func outputFormat(cmd *cobra.Command, formats ...string) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	for _, f := range formats {
		if f == format {
			return format, nil
		}
	}
	return "", fmt.Errorf("unsupported format %q (use one of %v)", format, formats)
}

// withOutput calls write with stdout or the --output file.
func withOutput(cmd *cobra.Command, write func(io.Writer) error) error {
	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path) //nolint:gosec // G304: user-chosen output file
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case outputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
