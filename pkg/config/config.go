package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/sameehj/shellmcp/pkg/safety"
)

// Config defines runtime settings for the command execution server.
type Config struct {
	LogLevel  string        `yaml:"logLevel"`
	LogFormat string        `yaml:"logFormat"`
	Exec      ExecConfig    `yaml:"exec"`
	Gateway   GatewayConfig `yaml:"gateway"`
	HTTP      HTTPConfig    `yaml:"http"`
	Audit     AuditConfig   `yaml:"audit"`
}

// ExecConfig feeds safety.Policy.
type ExecConfig struct {
	// Timeout is a Go duration string, e.g. "30s".
	Timeout string `yaml:"timeout"`
	// MaxOutput accepts plain byte counts or sizes like "1MiB".
	MaxOutput string `yaml:"maxOutput"`
	// Blocklist replaces the built-in denylist when set.
	Blocklist []string `yaml:"blocklist"`
	// ExtraBlocklist is appended to whichever denylist is in effect.
	ExtraBlocklist   []string `yaml:"extraBlocklist"`
	WorkingDirectory string   `yaml:"workingDirectory"`
}

type GatewayConfig struct {
	Address      string   `yaml:"address"`
	AllowedAddrs []string `yaml:"allowedAddrs"`
	MaxSessions  int      `yaml:"maxSessions"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
	// JWTSecret turns on bearer-token auth for /mcp and /ws when set.
	JWTSecret string `yaml:"jwtSecret"`
	// AllowedOrigins lists browser origins that may call /mcp and /ws.
	// Requests carrying any other Origin header are refused.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// AuditConfig enables a JSON-lines audit file next to the audit log lines.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// AuditPath returns the audit file path with ~ expanded, or "" when disabled.
func (c *Config) AuditPath() string {
	return expandPath(c.Audit.Path)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Exec: ExecConfig{
			Timeout:   "30s",
			MaxOutput: "1MiB",
		},
		Gateway: GatewayConfig{Address: "127.0.0.1:7777"},
		HTTP:    HTTPConfig{Address: "127.0.0.1:7778"},
	}
}

// LoadConfig loads configuration from a YAML file and environment overrides.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if _, err := cfg.Policy(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SHELLMCP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SHELLMCP_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("SHELLMCP_TIMEOUT"); v != "" {
		c.Exec.Timeout = v
	}
	if v := os.Getenv("SHELLMCP_MAX_OUTPUT"); v != "" {
		c.Exec.MaxOutput = v
	}
	if v := os.Getenv("SHELLMCP_WORKDIR"); v != "" {
		c.Exec.WorkingDirectory = v
	}
	if v := os.Getenv("SHELLMCP_GATEWAY_ADDR"); v != "" {
		c.Gateway.Address = v
	}
	if v := os.Getenv("SHELLMCP_HTTP_ADDR"); v != "" {
		c.HTTP.Address = v
	}
	if v := os.Getenv("SHELLMCP_JWT_SECRET"); v != "" {
		c.HTTP.JWTSecret = v
	}
	if v := os.Getenv("SHELLMCP_ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("SHELLMCP_AUDIT_LOG"); v != "" {
		c.Audit.Path = v
	}
	if v := os.Getenv("SHELLMCP_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SHELLMCP_MAX_SESSIONS: %w", err)
		}
		c.Gateway.MaxSessions = n
	}
	return nil
}

// Policy builds the immutable execution policy described by c.
func (c *Config) Policy() (safety.Policy, error) {
	opts := safety.PolicyOptions{
		DefaultWorkingDirectory: expandPath(c.Exec.WorkingDirectory),
	}

	if c.Exec.Timeout != "" {
		d, err := time.ParseDuration(c.Exec.Timeout)
		if err != nil {
			return safety.Policy{}, fmt.Errorf("parse exec timeout: %w", err)
		}
		if d <= 0 {
			return safety.Policy{}, fmt.Errorf("exec timeout must be positive: %s", c.Exec.Timeout)
		}
		opts.MaxExecutionTime = d
	}

	if c.Exec.MaxOutput != "" {
		n, err := humanize.ParseBytes(c.Exec.MaxOutput)
		if err != nil {
			return safety.Policy{}, fmt.Errorf("parse exec maxOutput: %w", err)
		}
		if n == 0 || n > uint64(maxInt) {
			return safety.Policy{}, fmt.Errorf("exec maxOutput out of range: %s", c.Exec.MaxOutput)
		}
		opts.MaxOutputBytes = int(n)
	}

	if c.Exec.Blocklist != nil || len(c.Exec.ExtraBlocklist) > 0 {
		base := c.Exec.Blocklist
		if base == nil {
			base = safety.DefaultDangerousSubstrings()
		}
		list := make([]string, 0, len(base)+len(c.Exec.ExtraBlocklist))
		list = append(list, base...)
		list = append(list, c.Exec.ExtraBlocklist...)
		opts.DangerousSubstrings = list
	}

	policy, err := safety.NewPolicy(opts)
	if err != nil {
		return safety.Policy{}, fmt.Errorf("build policy: %w", err)
	}
	return policy, nil
}

const maxInt = int(^uint(0) >> 1)

// DefaultConfigPath returns the default location for the config file.
func DefaultConfigPath() string {
	if path := os.Getenv("SHELLMCP_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".shellmcp", "config.yaml")
}

// ResolvePath returns path, or the default path when it exists on disk.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	def := DefaultConfigPath()
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
