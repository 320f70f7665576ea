package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the whole reportbot configuration.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown keys are rejected so typos are caught at load time.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Source    SourceConfig    `json:"source"`
	Render    RenderConfig    `json:"render,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`

	// Jobs is the static job registry. It is read once at startup and never
	// mutated during the process lifetime; a hot reload that changes it only
	// logs that a restart is required.
	Jobs []JobConfig `json:"jobs"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig holds the classification thresholds.
//
// Both thresholds are whole minutes. Pointers distinguish "omitted" (use the
// default) from an explicit zero.
//
// Defaults: ignore_threshold 30, catch_up_threshold 15.
type SchedulerConfig struct {
	Timezone         string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	IgnoreThreshold  *int   `json:"ignore_threshold,omitempty"`
	CatchUpThreshold *int   `json:"catch_up_threshold,omitempty"`
}

// DeliveryConfig controls the outbound retry protocol and gateway rate.
//
// Defaults: max_retries 3, retry_base "1s", rate_per_sec 3.
type DeliveryConfig struct {
	MaxRetries *int   `json:"max_retries,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SourceConfig points at the report API and its token endpoint.
type SourceConfig struct {
	BaseURL   string `json:"base_url"`
	TokenURL  string `json:"token_url"`
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
	Timeout   string `json:"timeout,omitempty"` // default "15s"
}

type RenderConfig struct {
	// OutputDir receives rendered documents (default "./reports"). Each firing
	// writes to a unique file so concurrent jobs never collide.
	OutputDir string `json:"output_dir,omitempty"`
}

// StorageConfig controls the optional run-history database.
//
// Driver values: "sqlite", or empty/"none" to disable.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// JobConfig is one configured report job.
type JobConfig struct {
	// Report is the opaque identifier sent to the report API.
	Report string `json:"report"`
	// Name is the human-readable label used in rendered output.
	Name string `json:"name"`
	// Chat is the Telegram chat the artifact is delivered to.
	Chat int64 `json:"chat"`
	// Time is the daily trigger as "HH:MM" (24h, scheduler timezone).
	Time string `json:"time"`
	// Every, if > 0, requests a recurring run every N minutes instead of a
	// single daily run. Intervals below the ignore threshold are not honored.
	Every int `json:"every,omitempty"`
}

const (
	DefaultIgnoreThreshold  = 30
	DefaultCatchUpThreshold = 15
	DefaultMaxRetries       = 3
	DefaultRetryBase        = time.Second
	DefaultRatePerSec       = 3
	DefaultOutputDir        = "./reports"
)

// Validate checks process-level settings. Per-job time-of-day problems are
// deliberately NOT rejected here: a malformed job is skipped at classification
// time without affecting its siblings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if c.Scheduler.IgnoreThreshold != nil && *c.Scheduler.IgnoreThreshold < 0 {
		return fmt.Errorf("scheduler.ignore_threshold must be >= 0")
	}
	if c.Scheduler.CatchUpThreshold != nil && *c.Scheduler.CatchUpThreshold < 0 {
		return fmt.Errorf("scheduler.catch_up_threshold must be >= 0")
	}
	if c.Delivery.MaxRetries != nil && *c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("delivery.max_retries must be >= 0")
	}
	if _, err := ParseDurationOrDefault("delivery.retry_base", c.Delivery.RetryBase, DefaultRetryBase); err != nil {
		return err
	}
	if c.Delivery.RatePerSec < 0 {
		return fmt.Errorf("delivery.rate_per_sec must be >= 0")
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if _, err := ParseDurationOrDefault("source.timeout", c.Source.Timeout, 15*time.Second); err != nil {
		return err
	}
	if c.Storage != nil {
		switch strings.TrimSpace(c.Storage.Driver) {
		case "", "none", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 0); err != nil {
			return err
		}
	}
	return nil
}

// IgnoreThresholdMinutes returns the configured or default ignore threshold.
func (c *Config) IgnoreThresholdMinutes() int {
	if c.Scheduler.IgnoreThreshold != nil {
		return *c.Scheduler.IgnoreThreshold
	}
	return DefaultIgnoreThreshold
}

// CatchUpThresholdMinutes returns the configured or default catch-up window.
func (c *Config) CatchUpThresholdMinutes() int {
	if c.Scheduler.CatchUpThreshold != nil {
		return *c.Scheduler.CatchUpThreshold
	}
	return DefaultCatchUpThreshold
}

// MaxRetriesCount returns the configured or default delivery retry budget.
func (c *Config) MaxRetriesCount() int {
	if c.Delivery.MaxRetries != nil {
		return *c.Delivery.MaxRetries
	}
	return DefaultMaxRetries
}
