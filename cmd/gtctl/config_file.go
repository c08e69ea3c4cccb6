package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional ~/.gtctl.yaml. Flags and environment variables
// take precedence over it.
type fileConfig struct {
	API     string `yaml:"api"`
	Token   string `yaml:"token"`
	CacheDB string `yaml:"cache_db"`
	Redis   string `yaml:"redis"`
}

func defaultConfigPath() string {
	if p := os.Getenv("GT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gtctl.yaml")
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyFile fills options that were set neither by flag nor by environment.
func (o *rootOptions) applyFile(cmd *cobra.Command) error {
	cfg, err := loadFileConfig(o.configPath)
	if err != nil {
		return err
	}
	set := func(flag, env string, dst *string, v string) {
		if v == "" || cmd.Flags().Changed(flag) || os.Getenv(env) != "" {
			return
		}
		*dst = v
	}
	set("api", "GT_API_URL", &o.apiURL, cfg.API)
	set("token", "GT_SESSION_TOKEN", &o.token, cfg.Token)
	set("cache-db", "GT_CACHE_DB", &o.cacheDB, cfg.CacheDB)
	set("redis", "GT_REDIS_URL", &o.redis, cfg.Redis)
	return nil
}
