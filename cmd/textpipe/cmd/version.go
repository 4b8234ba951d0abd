package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/textpipe/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := outputFormat(cmd, outputFormatText, outputFormatJSON, outputFormatYAML)
		if err != nil {
			return err
		}
		info := version.Info()
		return withOutput(cmd, func(w io.Writer) error {
			if format != outputFormatText {
				return encode(w, format, info)
			}
			_, err := fmt.Fprintln(w, info.String())
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	addOutputFlags(versionCmd, outputFormatText, outputFormatJSON, outputFormatYAML)
}
