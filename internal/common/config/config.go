package config

import (
	"os"
	"regexp"
	"time"

	"github.com/amoylab/gwbridge/pkg/helper"
	"github.com/amoylab/gwbridge/pkg/trace"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// BridgeConfig represents the gateway bridge configuration
	BridgeConfig struct {
		Gateway    GatewayConfig    `yaml:"gateway"`
		Forward    ForwardConfig    `yaml:"forward"`
		Supervisor SupervisorConfig `yaml:"supervisor"`
		Metrics    MetricsConfig    `yaml:"metrics"`
		Tracing    trace.Config     `yaml:"tracing"`
		Logger     LoggerConfig     `yaml:"logger"`
	}

	// GatewayConfig describes the upstream persistent connection
	GatewayConfig struct {
		URL              string        `yaml:"url"`               // canonical gateway url used for fresh identifies
		Version          int           `yaml:"version"`           // protocol version appended to resume urls
		Token            string        `yaml:"token"`             // authentication token
		Intents          int64         `yaml:"intents"`           // capability bitmask, passed through opaquely
		ClientName       string        `yaml:"client_name"`       // browser/device identify properties and X-Gateway-Source
		OS               string        `yaml:"os"`                // os identify property
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // websocket handshake timeout
		WriteTimeout     time.Duration `yaml:"write_timeout"`     // per-frame write deadline
	}

	// ForwardConfig describes the HTTP sink for accepted dispatch events
	ForwardConfig struct {
		Endpoint string        `yaml:"endpoint"`
		Secret   string        `yaml:"secret"`
		Timeout  time.Duration `yaml:"timeout"`
		Mirror   MirrorConfig  `yaml:"mirror"`
	}

	// MirrorConfig represents the optional redis stream copy of forwarded events
	MirrorConfig struct {
		Enabled     bool   `yaml:"enabled"`
		ClusterType string `yaml:"cluster_type"` // single, sentinel or cluster
		Addr        string `yaml:"addr"`         // ";" or "," separated list
		MasterName  string `yaml:"master_name"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		Stream      string `yaml:"stream"`
		MaxLen      int64  `yaml:"max_len"`
	}

	// SupervisorConfig represents the process level settings
	SupervisorConfig struct {
		MemoryLimitMB   int           `yaml:"memory_limit_mb"` // 0 disables the watchdog
		CheckInterval   time.Duration `yaml:"check_interval"`
		PID             string        `yaml:"pid"`
		HealthPort      int           `yaml:"health_port"` // 0 disables the health server
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}
)

const (
	DefaultGatewayURL       = "wss://gateway.discord.gg/?v=10&encoding=json"
	DefaultGatewayVersion   = 10
	DefaultClientName       = "gateway-bridge"
	DefaultMirrorStream     = "gateway:events"
	DefaultMirrorMaxLen     = 10000
	DefaultMetricsNS        = "gateway_bridge"
	DefaultHandshakeTimeout = 10 * time.Second
)

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*BridgeConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Parse decodes raw YAML, resolving ${VAR:default} placeholders, and fills defaults
func Parse(data []byte) (*BridgeConfig, error) {
	data = resolveEnv(data)
	var cfg BridgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *BridgeConfig) setDefaults() {
	if c.Gateway.URL == "" {
		c.Gateway.URL = DefaultGatewayURL
	}
	if c.Gateway.Version <= 0 {
		c.Gateway.Version = DefaultGatewayVersion
	}
	if c.Gateway.ClientName == "" {
		c.Gateway.ClientName = DefaultClientName
	}
	if c.Gateway.OS == "" {
		c.Gateway.OS = "linux"
	}
	if c.Gateway.HandshakeTimeout <= 0 {
		c.Gateway.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Gateway.WriteTimeout <= 0 {
		c.Gateway.WriteTimeout = 10 * time.Second
	}
	if c.Forward.Timeout <= 0 {
		c.Forward.Timeout = 10 * time.Second
	}
	if c.Forward.Mirror.Stream == "" {
		c.Forward.Mirror.Stream = DefaultMirrorStream
	}
	if c.Forward.Mirror.MaxLen <= 0 {
		c.Forward.Mirror.MaxLen = DefaultMirrorMaxLen
	}
	if c.Supervisor.CheckInterval <= 0 {
		c.Supervisor.CheckInterval = 30 * time.Second
	}
	if c.Supervisor.ShutdownTimeout <= 0 {
		c.Supervisor.ShutdownTimeout = 5 * time.Second
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNS
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultClientName
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := envPattern.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
