// Package config loads the sprintd configuration from a JSONC file with
// environment template expansion and defaults.
package config

import "time"

// Config is the root configuration for sprintd.
type Config struct {
	Storage     StorageConfig     `json:"storage"`
	Events      EventsConfig      `json:"events"`
	Gateway     GatewayConfig     `json:"gateway"`
	Queue       QueueConfig       `json:"queue"`
	Planner     PlannerConfig     `json:"planner"`
	Learning    LearningConfig    `json:"learning"`
	Memory      MemoryConfig      `json:"memory"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// StorageConfig holds durable store settings.
type StorageConfig struct {
	Path string `json:"path"` // sqlite file (default: $SPRINTD_PATH/sprintd.db)
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// GatewayConfig holds the HTTP gateway settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// QueueConfig holds task scheduler settings.
type QueueConfig struct {
	Workers      int      `json:"workers"`
	MaxRetries   int      `json:"max_retries"`
	PollInterval Duration `json:"poll_interval,omitempty"`
	BackendURL   string   `json:"backend_url,omitempty"` // external executor webhook; empty = noop
}

// PlannerConfig holds sprint planning defaults. Per-request values override
// them.
type PlannerConfig struct {
	Capacity        int    `json:"capacity"`
	DurationDays    int    `json:"duration_days"`
	DefaultAutonomy string `json:"default_autonomy"`
	AutoDecompose   bool   `json:"auto_decompose"`
	AutoEnqueue     bool   `json:"auto_enqueue"`
}

// LearningConfig tunes the pattern engine.
type LearningConfig struct {
	MinSharedKeywords int     `json:"min_shared_keywords"`
	CleanupThreshold  float64 `json:"cleanup_threshold"`
}

// MemoryConfig holds session memory settings.
type MemoryConfig struct {
	SessionTTL Duration `json:"session_ttl,omitempty"`
}

// MaintenanceConfig holds cron specs for the housekeeping jobs.
type MaintenanceConfig struct {
	MemoryCleanupCron  string `json:"memory_cleanup_cron"`
	PatternCleanupCron string `json:"pattern_cleanup_cron"`
	SprintMonitorCron  string `json:"sprint_monitor_cron"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
