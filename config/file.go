package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment sets a
// value.
const (
	DefaultOutputDir = "novels"
	DefaultCacheDir  = ".cache"
	DefaultConfigDir = "configs"
	DefaultLogLevel  = "info"
	DefaultFormats   = "txt"
)

// FileConfig represents the structure of ~/.novelfetch/config.yaml.
type FileConfig struct {
	OutputDir string `yaml:"output_dir"`
	CacheDir  string `yaml:"cache_dir"`
	ConfigDir string `yaml:"config_dir"`
	LogLevel  string `yaml:"log_level"`
	LogJSON   bool   `yaml:"log_json"`
	Formats   string `yaml:"formats"`
	Lang      string `yaml:"lang"`
}

// LoadConfigFile loads configuration from ~/.novelfetch/config.yaml. Returns
// nil if the file doesn't exist (not an error). Returns error if the file
// exists but cannot be parsed.
func LoadConfigFile() (*FileConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".novelfetch", "config.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Settings are the effective application settings before command line flags
// are applied.
type Settings struct {
	OutputDir string
	CacheDir  string
	ConfigDir string
	LogLevel  string
	LogJSON   bool
	Formats   string
	Lang      string
}

// Resolve layers the environment over the config file over the defaults.
// file may be nil.
func Resolve(file *FileConfig) Settings {
	s := Settings{
		OutputDir: DefaultOutputDir,
		CacheDir:  DefaultCacheDir,
		ConfigDir: DefaultConfigDir,
		LogLevel:  DefaultLogLevel,
		Formats:   DefaultFormats,
	}

	if file != nil {
		s.OutputDir = orDefault(file.OutputDir, s.OutputDir)
		s.CacheDir = orDefault(file.CacheDir, s.CacheDir)
		s.ConfigDir = orDefault(file.ConfigDir, s.ConfigDir)
		s.LogLevel = orDefault(file.LogLevel, s.LogLevel)
		s.Formats = orDefault(file.Formats, s.Formats)
		s.Lang = file.Lang
		s.LogJSON = file.LogJSON
	}

	s.OutputDir = getEnv("NOVELFETCH_OUTPUT_DIR", s.OutputDir)
	s.CacheDir = getEnv("NOVELFETCH_CACHE_DIR", s.CacheDir)
	s.ConfigDir = getEnv("NOVELFETCH_CONFIG_DIR", s.ConfigDir)
	s.LogLevel = getEnv("NOVELFETCH_LOG_LEVEL", s.LogLevel)

	return s
}

// SiteConfigPath locates a site configuration. An existing path is used as
// given; otherwise the name is looked up in the config directory, with a
// .yaml, .yml or .json extension added when it has none.
func (s Settings) SiteConfigPath(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}

	candidates := []string{filepath.Join(s.ConfigDir, name)}
	if filepath.Ext(name) == "" {
		for _, ext := range []string{".yaml", ".yml", ".json"} {
			candidates = append(candidates, filepath.Join(s.ConfigDir, name+ext))
		}
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("site config %q not found (looked in %s)", name, strings.Join(candidates, ", "))
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func orDefault(value, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
}
