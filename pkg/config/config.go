package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// OrchestratorConfig points the monitor at a DolphinScheduler API.
type OrchestratorConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

// MonitorConfig controls the polling loop.
type MonitorConfig struct {
	CheckIntervalSeconds int  `yaml:"check_interval"`
	ContinuousMode       bool `yaml:"continuous_mode"`
	// TimeWindowHours restricts attention to instances started within the
	// window; older failures are ignored.
	TimeWindowHours int `yaml:"time_window_hours"`
	// MaxFailuresForRecovery is the per-definition failure-count threshold.
	// Definitions with more failures than this inside the window are routed
	// to notify-only, never recovered.
	MaxFailuresForRecovery int `yaml:"max_failures_for_recovery"`
}

// ScheduleConfig controls schedule-aware tracking.
type ScheduleConfig struct {
	ExecutionWindowHours   int `yaml:"execution_window_hours"`
	SuccessCooldownMinutes int `yaml:"success_cooldown_minutes"`
}

// ValidationMode selects how eligibility is decided. The two modes exist
// because orchestrator versions differ in task-payload completeness; the
// deployed mode is an explicit choice, never switched silently.
type ValidationMode string

const (
	ValidationStatusOnly     ValidationMode = "status_only"
	ValidationFullInspection ValidationMode = "full_inspection"
)

// RetryConfig bounds automated recovery.
type RetryConfig struct {
	MaxRecoveryAttempts     int            `yaml:"max_recovery_attempts"`
	RecoveryIntervalSeconds int            `yaml:"recovery_interval"`
	AutoRecovery            bool           `yaml:"auto_recovery"`
	ValidationMode          ValidationMode `yaml:"validation_mode"`
}

// RateLimitConfig caps notifications per workflow definition.
type RateLimitConfig struct {
	TimeWindowHours  int `yaml:"time_window_hours"`
	MaxNotifications int `yaml:"max_notifications"`
}

// DingTalkConfig configures the DingTalk webhook sender.
type DingTalkConfig struct {
	Enabled    bool     `yaml:"enabled"`
	WebhookURL string   `yaml:"webhook_url"`
	Secret     string   `yaml:"secret"`
	Keyword    string   `yaml:"keyword"`
	AtMobiles  []string `yaml:"at_mobiles"`
	AtAll      bool     `yaml:"at_all"`
}

// WeComConfig configures the WeCom webhook sender.
type WeComConfig struct {
	Enabled       bool     `yaml:"enabled"`
	WebhookURL    string   `yaml:"webhook_url"`
	MentionedList []string `yaml:"mentioned_list"`
}

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from_addr"`
	To       []string `yaml:"to_addrs"`
}

// NotificationConfig groups the outbound channels and their rate limit.
type NotificationConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	DingTalk  DingTalkConfig  `yaml:"dingtalk"`
	WeCom     WeComConfig     `yaml:"wework"`
	Email     EmailConfig     `yaml:"email"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ProjectConfig names one project to monitor. With MonitorAll unset, only
// the listed workflows are watched.
type ProjectConfig struct {
	Name       string   `yaml:"name"`
	MonitorAll bool     `yaml:"monitor_all"`
	Workflows  []string `yaml:"workflows"`
}

// Config is the full process configuration.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"dolphinscheduler"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Retry        RetryConfig        `yaml:"retry"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	DataDir      string             `yaml:"data_dir"`
	Projects     []ProjectConfig    `yaml:"projects"`
}

// Default returns the configuration defaults applied before file and
// environment loading.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			APIURL: "http://localhost:12345/dolphinscheduler",
		},
		Monitor: MonitorConfig{
			CheckIntervalSeconds:   60,
			ContinuousMode:         true,
			TimeWindowHours:        24,
			MaxFailuresForRecovery: 1,
		},
		Schedule: ScheduleConfig{
			ExecutionWindowHours:   4,
			SuccessCooldownMinutes: 30,
		},
		Retry: RetryConfig{
			MaxRecoveryAttempts:     3,
			RecoveryIntervalSeconds: 30,
			AutoRecovery:            true,
			ValidationMode:          ValidationFullInspection,
		},
		Notification: NotificationConfig{
			RateLimit: RateLimitConfig{
				TimeWindowHours:  24,
				MaxNotifications: 6,
			},
			Email: EmailConfig{SMTPPort: 465},
		},
		Logging: LoggingConfig{Level: "info"},
		DataDir: "data",
	}
}

// Load reads the config file (if path is non-empty), then applies
// environment overrides on top of file values and defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("DS_API_URL", &c.Orchestrator.APIURL)
	envString("DS_TOKEN", &c.Orchestrator.Token)
	envInt("DS_CHECK_INTERVAL", &c.Monitor.CheckIntervalSeconds)
	envBool("DS_CONTINUOUS_MODE", &c.Monitor.ContinuousMode)
	envInt("DS_TIME_WINDOW_HOURS", &c.Monitor.TimeWindowHours)
	envInt("DS_MAX_FAILURES_FOR_RECOVERY", &c.Monitor.MaxFailuresForRecovery)
	envInt("DS_MAX_RECOVERY_ATTEMPTS", &c.Retry.MaxRecoveryAttempts)
	envBool("DS_AUTO_RECOVERY", &c.Retry.AutoRecovery)
	envString("DS_LOG_LEVEL", &c.Logging.Level)
	envBool("DS_DINGTALK_ENABLED", &c.Notification.DingTalk.Enabled)
	envString("DS_DINGTALK_WEBHOOK", &c.Notification.DingTalk.WebhookURL)
	envString("DS_DINGTALK_SECRET", &c.Notification.DingTalk.Secret)
	envString("DS_DINGTALK_KEYWORD", &c.Notification.DingTalk.Keyword)
	envBool("DS_WEWORK_ENABLED", &c.Notification.WeCom.Enabled)
	envString("DS_WEWORK_WEBHOOK", &c.Notification.WeCom.WebhookURL)
	envBool("DS_EMAIL_ENABLED", &c.Notification.Email.Enabled)
	envString("DS_EMAIL_SMTP_HOST", &c.Notification.Email.SMTPHost)
	envInt("DS_EMAIL_SMTP_PORT", &c.Notification.Email.SMTPPort)
	envString("DS_EMAIL_USERNAME", &c.Notification.Email.Username)
	envString("DS_EMAIL_PASSWORD", &c.Notification.Email.Password)
	envString("DS_EMAIL_FROM", &c.Notification.Email.From)
}

func (c *Config) validate() error {
	switch c.Retry.ValidationMode {
	case ValidationStatusOnly, ValidationFullInspection:
	case "":
		c.Retry.ValidationMode = ValidationFullInspection
	default:
		return fmt.Errorf("invalid validation_mode %q (want %q or %q)",
			c.Retry.ValidationMode, ValidationStatusOnly, ValidationFullInspection)
	}
	if c.Monitor.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("check_interval must be positive, got %d", c.Monitor.CheckIntervalSeconds)
	}
	if c.Schedule.ExecutionWindowHours <= 0 {
		return fmt.Errorf("execution_window_hours must be positive, got %d", c.Schedule.ExecutionWindowHours)
	}
	return nil
}

// Redacted returns a copy safe for display: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Orchestrator.Token != "" {
		out.Orchestrator.Token = "***"
	}
	if out.Notification.DingTalk.Secret != "" {
		out.Notification.DingTalk.Secret = "***"
	}
	if out.Notification.DingTalk.WebhookURL != "" {
		out.Notification.DingTalk.WebhookURL = "***"
	}
	if out.Notification.WeCom.WebhookURL != "" {
		out.Notification.WeCom.WebhookURL = "***"
	}
	if out.Notification.Email.Password != "" {
		out.Notification.Email.Password = "***"
	}
	return &out
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			*dst = true
		case "false", "0", "no":
			*dst = false
		}
	}
}
