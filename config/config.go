package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DownloadBaseDir string `json:"download_base_dir" yaml:"download_base_dir"`
	CredsDir        string `json:"creds_dir"         yaml:"creds_dir"`
	CoverSize       int    `json:"cover_size"        yaml:"cover_size"`
	Quality         string `json:"quality"           yaml:"quality"`
}

func (cfg *Config) validate() error {
	if cfg.DownloadBaseDir == "" {
		return errors.New("download base dir is empty")
	}

	if cfg.CredsDir == "" {
		return errors.New("credentials dir is empty")
	}

	if cfg.CoverSize == 0 {
		cfg.CoverSize = 1400
	}

	if cfg.Quality == "" {
		cfg.Quality = "lossless"
	}

	return nil
}

func FromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %q: %v", filePath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config file %q: %v", filePath, err)
	}

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}

func FromString(data string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(data), &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}
