package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates, strips
// comments and trailing commas, unmarshals it into Config, and applies
// defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand env templates before standardizing, since templates live in strings.
	expanded := expandEnvTemplates(string(data))

	standardized, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(SprintdPath(), "sprintd.db")
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8420
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 2
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Planner.Capacity == 0 {
		cfg.Planner.Capacity = 20
	}
	if cfg.Planner.DurationDays == 0 {
		cfg.Planner.DurationDays = 14
	}
	if cfg.Planner.DefaultAutonomy == "" {
		cfg.Planner.DefaultAutonomy = "approval_gates"
	}
	if cfg.Learning.MinSharedKeywords == 0 {
		cfg.Learning.MinSharedKeywords = 2
	}
	if cfg.Learning.CleanupThreshold == 0 {
		cfg.Learning.CleanupThreshold = 0.3
	}
	if cfg.Memory.SessionTTL == 0 {
		cfg.Memory.SessionTTL = Duration(24 * time.Hour)
	}
	if cfg.Maintenance.MemoryCleanupCron == "" {
		cfg.Maintenance.MemoryCleanupCron = "0 3 * * *"
	}
	if cfg.Maintenance.PatternCleanupCron == "" {
		cfg.Maintenance.PatternCleanupCron = "30 3 * * *"
	}
	if cfg.Maintenance.SprintMonitorCron == "" {
		cfg.Maintenance.SprintMonitorCron = "*/15 * * * *"
	}
}
