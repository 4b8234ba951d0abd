package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/textpipe/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration",
	Long: `Write the default configuration as YAML. The file name defaults to
textpipe.yaml in the working directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			name = args[0]
		}
		if err := config.GenerateDefaultConfigFile(name); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
.env, TEXTPIPE_* environment variables and flags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := outputFormat(cmd, outputFormatYAML, outputFormatJSON)
		if err != nil {
			return err
		}
		cfg := GetConfig()
		return withOutput(cmd, func(w io.Writer) error {
			if used := configLoader.GetConfigFileUsed(); used != "" && format == outputFormatYAML {
				if _, err := fmt.Fprintf(w, "# loaded from %s\n", used); err != nil {
					return err
				}
			}
			return encode(w, format, cfg)
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	addOutputFlags(configShowCmd, outputFormatYAML, outputFormatJSON)
}
