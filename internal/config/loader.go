package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "textpipe"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "TEXTPIPE"
)

// Loader handles loading configuration from files, .env files,
// environment variables and bound flags.
type Loader struct {
	v       *viper.Viper
	envFile string
}

// NewLoader creates a loader on the global viper instance so flags bound
// by the CLI take part in resolution.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper(), envFile: ".env"}
}

// NewLoaderWithViper creates a loader on v.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envFile: ".env"}
}

// SetEnvFile changes the dotenv file read before the environment is bound.
// An empty name disables dotenv loading.
func (l *Loader) SetEnvFile(name string) {
	l.envFile = name
}

// Load reads configuration from the search paths and validates it.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.LoadWithFileWithoutValidation("")
}

// LoadWithFile loads configuration from configFile, or from the search
// paths when configFile is empty, and validates it.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration without validating it.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}
	l.setupEnvironmentVariables()
	l.setDefaults()

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv exports the variables of the dotenv file. Variables already
// set in the environment win; a missing file is not an error.
func (l *Loader) loadDotEnv() error {
	if l.envFile == "" {
		return nil
	}
	if err := godotenv.Load(l.envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading env file %s: %w", l.envFile, err)
	}
	return nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// server.rate_limit.burst -> TEXTPIPE_SERVER_RATE_LIMIT_BURST
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func (l *Loader) setDefaults() {
	for key, value := range defaultSettings() {
		l.v.SetDefault(key, value)
	}
}

func defaultSettings() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"log_level": d.LogLevel,
		"backend":   d.Backend,

		"models.dir":        d.Models.Dir,
		"models.base_url":   d.Models.BaseURL,
		"models.pretrained": d.Models.Pretrained,
		"models.download":   d.Models.Download,
		"models.cache_size": d.Models.CacheSize,

		"onnx.library_path":               d.ONNX.LibraryPath,
		"onnx.num_threads":                d.ONNX.NumThreads,
		"onnx.gpu.enabled":                d.ONNX.GPU.Enabled,
		"onnx.gpu.device_id":              d.ONNX.GPU.DeviceID,
		"onnx.gpu.mem_limit":              d.ONNX.GPU.MemLimit,
		"onnx.gpu.arena_extend_strategy":  d.ONNX.GPU.ArenaExtendStrategy,
		"onnx.gpu.cudnn_conv_algo_search": d.ONNX.GPU.CUDNNConvAlgoSearch,

		"detection.arch":                  d.Detection.Arch,
		"detection.batch_size":            d.Detection.BatchSize,
		"detection.bin_thresh":            d.Detection.BinThresh,
		"detection.box_thresh":            d.Detection.BoxThresh,
		"detection.assume_straight_pages": d.Detection.AssumeStraightPages,
		"detection.preserve_aspect_ratio": d.Detection.PreserveAspectRatio,
		"detection.symmetric_pad":         d.Detection.SymmetricPad,
		"detection.detect_orientation":    d.Detection.DetectOrientation,
		"detection.detect_language":       d.Detection.DetectLanguage,
		"detection.straighten_pages":      d.Detection.StraightenPages,

		"recognition.arch":       d.Recognition.Arch,
		"recognition.batch_size": d.Recognition.BatchSize,
		"recognition.dict_path":  d.Recognition.DictPath,

		"document.resolve_lines":   d.Document.ResolveLines,
		"document.resolve_blocks":  d.Document.ResolveBlocks,
		"document.paragraph_break": d.Document.ParagraphBreak,

		"server.host":                           d.Server.Host,
		"server.port":                           d.Server.Port,
		"server.cors_origin":                    d.Server.CORSOrigin,
		"server.max_upload_mb":                  d.Server.MaxUploadMB,
		"server.timeout_sec":                    d.Server.TimeoutSec,
		"server.shutdown_timeout":               d.Server.ShutdownTimeout,
		"server.rate_limit.enabled":             d.Server.RateLimit.Enabled,
		"server.rate_limit.requests_per_minute": d.Server.RateLimit.RequestsPerMinute,
		"server.rate_limit.burst":               d.Server.RateLimit.Burst,
	}
}

// GenerateDefaultConfigFile writes the default configuration as YAML.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	v := viper.New()
	NewLoaderWithViper(v).setDefaults()
	return v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && configDir != "" {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}
