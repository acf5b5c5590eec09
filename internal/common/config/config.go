// Package config loads daemon configuration from environment variables and
// an optional YAML file using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the orchestration core.
type Config struct {
	Agent   AgentConfig   `mapstructure:"agent"`
	APS     APSConfig     `mapstructure:"aps"`
	Task    TaskConfig    `mapstructure:"task"`
	RL      RLConfig      `mapstructure:"rl"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Pattern    PatternConfig    `mapstructure:"pattern"`
	Experience ExperienceConfig `mapstructure:"experience"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AgentConfig controls the PTY-backed Agent Manager.
type AgentConfig struct {
	MaxAgents         int    `mapstructure:"max_agents"`
	SendTimeoutMs     int    `mapstructure:"send_timeout_ms"`
	SystemPromptDir   string `mapstructure:"system_prompt_dir"`
	StopGraceMs       int    `mapstructure:"stop_grace_ms"`
	DisableConfirmFlag string `mapstructure:"disable_confirm_flag"`
}

// SendTimeout returns the per-send timeout as a duration.
func (c AgentConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// StopGrace returns the grace period before force-killing a stopped agent.
func (c AgentConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceMs) * time.Millisecond
}

// APSConfig controls the WebSocket Agent Protocol Server.
type APSConfig struct {
	ListenAddr          string   `mapstructure:"listen_addr"`
	HeartbeatTimeoutMs  int      `mapstructure:"heartbeat_timeout_ms"`
	PendingRequestTTLMs int      `mapstructure:"pending_request_ttl_ms"`
	GCIntervalMs        int      `mapstructure:"gc_interval_ms"`
	RequestTimeoutMs    int      `mapstructure:"request_timeout_ms"`
	OutboundQueueCap    int      `mapstructure:"outbound_queue_cap"`
	APIKeys             []string `mapstructure:"api_keys"`
}

func (c APSConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

func (c APSConfig) PendingRequestTTL() time.Duration {
	return time.Duration(c.PendingRequestTTLMs) * time.Millisecond
}

func (c APSConfig) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalMs) * time.Millisecond
}

func (c APSConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// TaskConfig controls the task table's retention and end-to-end timeout.
type TaskConfig struct {
	EndToEndTimeoutMs int `mapstructure:"end_to_end_timeout_ms"`
	TableCap          int `mapstructure:"table_cap"`
	TTLMs             int `mapstructure:"ttl_ms"`
	SweepIntervalMs   int `mapstructure:"sweep_interval_ms"`
}

func (c TaskConfig) EndToEndTimeout() time.Duration {
	return time.Duration(c.EndToEndTimeoutMs) * time.Millisecond
}

func (c TaskConfig) TTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

func (c TaskConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// RLConfig controls the pluggable RL engine.
type RLConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Algorithm  string `mapstructure:"algorithm"`
	BatchSize  int    `mapstructure:"batch_size"`
	QTableCap  int    `mapstructure:"q_table_cap"`
	ReplayCap  int    `mapstructure:"replay_cap"`
}

// NATSConfig controls the optional pub-sub/broadcast fallback transport.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// PatternConfig controls the optional Postgres-backed PatternStore; when
// Enabled is false, the orchestrator falls back to the in-memory store.
type PatternConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// DSN builds a libpq-style connection string from the configured fields.
func (c PatternConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

// ExperienceConfig controls the optional SQLite-backed ExperienceStore;
// when Enabled is false, the orchestrator keeps experience replay in memory
// only (lost on restart).
type ExperienceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig mirrors internal/common/logger.LoggingConfig's fields
// (duplicated here, not imported, to keep config free of a logger dependency).
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.max_agents", 10)
	v.SetDefault("agent.send_timeout_ms", 30_000)
	v.SetDefault("agent.system_prompt_dir", "agents")
	v.SetDefault("agent.stop_grace_ms", 5_000)
	v.SetDefault("agent.disable_confirm_flag", "--no-confirm")

	v.SetDefault("aps.listen_addr", ":8181")
	v.SetDefault("aps.heartbeat_timeout_ms", 90_000)
	v.SetDefault("aps.pending_request_ttl_ms", 60_000)
	v.SetDefault("aps.gc_interval_ms", 30_000)
	v.SetDefault("aps.request_timeout_ms", 30_000)
	v.SetDefault("aps.outbound_queue_cap", 100)
	v.SetDefault("aps.api_keys", []string{})

	v.SetDefault("task.end_to_end_timeout_ms", 300_000)
	v.SetDefault("task.table_cap", 10_000)
	v.SetDefault("task.ttl_ms", 3_600_000)
	v.SetDefault("task.sweep_interval_ms", 60_000)

	v.SetDefault("rl.enabled", true)
	v.SetDefault("rl.algorithm", "q_learning")
	v.SetDefault("rl.batch_size", 32)
	v.SetDefault("rl.q_table_cap", 100_000)
	v.SetDefault("rl.replay_cap", 10_000)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("pattern.enabled", false)
	v.SetDefault("pattern.host", "localhost")
	v.SetDefault("pattern.port", 5432)
	v.SetDefault("pattern.database", "agentcore")
	v.SetDefault("pattern.user", "agentcore")
	v.SetDefault("pattern.ssl_mode", "disable")
	v.SetDefault("pattern.max_conns", 10)
	v.SetDefault("pattern.min_conns", 1)

	v.SetDefault("experience.enabled", false)
	v.SetDefault("experience.path", "agentcore-experience.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "stdout")
}

// Load reads configuration from environment variables (prefix KANDEV_) and,
// if present, a config.yaml in the working directory or /etc/kandev.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath loads configuration with an explicit config file path.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KANDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit binds for the core-relevant env vars named in the spec that
	// don't naturally match the nested key replacer above.
	_ = v.BindEnv("agent.max_agents", "MAX_AGENTS")
	_ = v.BindEnv("agent.send_timeout_ms", "PTY_SEND_TIMEOUT_MS")
	_ = v.BindEnv("aps.heartbeat_timeout_ms", "APS_HEARTBEAT_TIMEOUT_MS")
	_ = v.BindEnv("task.end_to_end_timeout_ms", "TASK_END_TO_END_TIMEOUT_MS")
	_ = v.BindEnv("rl.enabled", "RL_ENABLED")
	_ = v.BindEnv("rl.algorithm", "RL_ALGORITHM")
	_ = v.BindEnv("rl.batch_size", "RL_BATCH_SIZE")
	_ = v.BindEnv("rl.q_table_cap", "Q_TABLE_CAP")
	_ = v.BindEnv("task.table_cap", "TASK_TABLE_CAP")
	_ = v.BindEnv("task.ttl_ms", "TASK_TTL_MS")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kandev")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var problems []string
	if cfg.Agent.MaxAgents < 0 {
		problems = append(problems, "agent.max_agents must be >= 0")
	}
	if cfg.RL.BatchSize <= 0 {
		problems = append(problems, "rl.batch_size must be > 0")
	}
	if cfg.Task.TableCap <= 0 {
		problems = append(problems, "task.table_cap must be > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
