// Package config loads the tool configuration from config.yml with
// HEIFPRESS_ environment overrides.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the batch defaults the CLI starts from. Flags override
// whatever is loaded here.
type Config struct {
	Output struct {
		Dir  string `mapstructure:"dir"`
		Kind string `mapstructure:"kind"`
	} `mapstructure:"output"`
	Document struct {
		Mode     string `mapstructure:"mode"`
		PageSize string `mapstructure:"page_size"`
	} `mapstructure:"document"`
	Transform struct {
		Width        int    `mapstructure:"width"`
		Height       int    `mapstructure:"height"`
		Fit          string `mapstructure:"fit"`
		KeepMetadata bool   `mapstructure:"keep_metadata"`
	} `mapstructure:"transform"`
	MaxFileSizeMB int `mapstructure:"max_file_size_mb"`
	GroupSize     int `mapstructure:"group_size"`
}

// Load reads config.yml from the current directory, falling back to
// defaults when the file is absent. Environment variables with the
// HEIFPRESS_ prefix override file values, e.g. HEIFPRESS_OUTPUT_DIR.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HEIFPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("output.dir", "converted")
	v.SetDefault("output.kind", "pdf")
	v.SetDefault("document.mode", "separate")
	v.SetDefault("document.page_size", "native")
	v.SetDefault("transform.width", 0)
	v.SetDefault("transform.height", 0)
	v.SetDefault("transform.fit", "bounded")
	v.SetDefault("transform.keep_metadata", false)
	v.SetDefault("max_file_size_mb", 10)
	v.SetDefault("group_size", 3)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MaxFileBytes converts the configured ceiling to bytes; zero disables it.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}
