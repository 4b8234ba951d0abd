package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/config"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/onnx"
	"github.com/MeKo-Tech/textpipe/internal/recognition"
	"github.com/MeKo-Tech/textpipe/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string

	// openRunner replaces ONNX Runtime sessions when set.
	openRunner func(onnx.SessionConfig) (model.Runner, error)
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "textpipe",
	Short: "Document OCR with pluggable detection and recognition architectures",
	Long: `textpipe localizes words on document pages, reads them and assembles
the result into blocks, lines and words with relative geometry.

Detection (db_*, linknet_*, fast_*) and recognition (crnn_*, sar_*, master,
vitstr_*, parseq) architectures run on exported ONNX weights for the
TensorFlow or PyTorch flavour of each model.

Examples:
  textpipe ocr scan.png
  textpipe ocr report.pdf --format json --paragraph-break 0.01
  textpipe detect page.jpg --det-arch fast_base
  textpipe archs --task recognition
  textpipe serve --port 8080`,
	SilenceUsage: true,
	Version:      version.Info().Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	// Assigned here rather than in the literal: initConfig refers to rootCmd.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		setupLogging(cmd, globalConfig.LogLevel)

		backend, err := globalConfig.BackendValue()
		if err != nil {
			return err
		}
		return arch.SetBackend(backend)
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is textpipe.yaml in ., $XDG_CONFIG_HOME/textpipe, /etc/textpipe)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "tensorflow", "model backend (tensorflow, pytorch)")
	rootCmd.PersistentFlags().String("models-dir", "models", "directory holding the exported ONNX weights")
	rootCmd.PersistentFlags().String("onnx-lib", "", "path to the ONNX Runtime shared library")

	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// persistentKeys binds root flags to configuration keys.
var persistentKeys = map[string]string{
	"log-level":  "log_level",
	"backend":    "backend",
	"models-dir": "models.dir",
	"onnx-lib":   "onnx.library_path",
}

// initConfig reads the config file, .env and TEXTPIPE_* variables. Bound
// flags take precedence over all of them.
func initConfig() error {
	v := viper.New()
	for flag, key := range persistentKeys {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	configLoader = config.NewLoaderWithViper(v)

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
		globalConfig.LogLevel = "debug"
	}
	return nil
}

func setupLogging(cmd *cobra.Command, level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	// Results go to stdout; logs stay on stderr.
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	return globalConfig
}

// newResolver builds the model resolver of the active backend.
func newResolver(cfg *config.Config) (*model.Resolver, error) {
	rc := cfg.ToResolverConfig()
	rc.Open = openRunner
	return model.NewResolver(arch.Active(), rc)
}

// loadVocab reads the configured dictionary, if any.
func loadVocab(cfg *config.Config) ([]string, error) {
	if cfg.Recognition.DictPath == "" {
		return nil, nil
	}
	tokens, err := recognition.LoadTokens(cfg.Recognition.DictPath)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	return tokens, nil
}
