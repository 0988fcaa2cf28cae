// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the YAML configuration for the xlfacilityd demo
// daemon: which sinks to open and at what level thresholds.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/xlfacility"
)

// DaemonConfig is the top-level shape of xlfacilityd's YAML config file.
type DaemonConfig struct {
	MinLogLevel string `yaml:"min_log_level"`

	File      *FileSinkConfig      `yaml:"file"`
	Stderr    *StderrSinkConfig    `yaml:"stderr"`
	TCPServer *TCPServerSinkConfig `yaml:"tcp_server"`
	TCPClient *TCPClientSinkConfig `yaml:"tcp_client"`
	Telnet    *TelnetSinkConfig    `yaml:"telnet"`
	HTTP      *HTTPSinkConfig      `yaml:"http"`

	// ParsedMinLogLevel is filled in by validate(); not read from YAML.
	ParsedMinLogLevel xlfacility.Level `yaml:"-"`
}

// FileSinkConfig configures the plain-file sink (spec §4.6).
type FileSinkConfig struct {
	Path     string `yaml:"path"`
	Truncate bool   `yaml:"truncate"`
	Level    string `yaml:"level"`
}

// StderrSinkConfig configures the stderr sink (spec §4.6).
type StderrSinkConfig struct {
	Level string `yaml:"level"`
}

// TCPServerSinkConfig configures the raw TCP server sink (spec §4.7).
type TCPServerSinkConfig struct {
	Listen           string `yaml:"listen"`
	Level            string `yaml:"level"`
	SendTimeout      string `yaml:"send_timeout"` // "block" | "fire_and_forget" | a duration string
	History          string `yaml:"history"`      // jsonl file path; empty disables replay
	HistoryMax       int    `yaml:"history_max_lines"`
	SendRateLimitBps int64  `yaml:"send_rate_limit_bytes_per_sec"` // <= 0 disables limiting
}

// TCPClientSinkConfig configures the auto-reconnecting TCP client sink
// (spec §4.9).
type TCPClientSinkConfig struct {
	Connect          string `yaml:"connect"`
	Level            string `yaml:"level"`
	SendTimeout      string `yaml:"send_timeout"`
	History          string `yaml:"history"`
	HistoryMax       int    `yaml:"history_max_lines"`
	SendRateLimitBps int64  `yaml:"send_rate_limit_bytes_per_sec"`
}

// TelnetSinkConfig configures the hard Telnet sink (spec §4.8).
type TelnetSinkConfig struct {
	Listen           string `yaml:"listen"`
	Level            string `yaml:"level"`
	Banner           string `yaml:"banner"`
	Colorize         bool   `yaml:"colorize"`
	MaxHistorySize   int    `yaml:"max_history_size"` // per-connection line-editor history
	History          string `yaml:"history"`          // jsonl replay file; empty disables replay
	HistoryMax       int    `yaml:"history_max_lines"`
	SendRateLimitBps int64  `yaml:"send_rate_limit_bytes_per_sec"`
}

// HTTPSinkConfig configures the HTTP long-poll sink (spec §4.10). History
// is mandatory for this sink: the long-poll contract depends on it.
type HTTPSinkConfig struct {
	Listen     string `yaml:"listen"`
	Level      string `yaml:"level"`
	History    string `yaml:"history"`
	HistoryMax int    `yaml:"history_max_lines"`
}

// LoadDaemonConfig reads, parses and validates path.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading daemon config: %w", err)
	}

	var cfg DaemonConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing daemon config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating daemon config: %w", err)
	}

	return &cfg, nil
}

func (c *DaemonConfig) validate() error {
	level := strings.TrimSpace(c.MinLogLevel)
	if level == "" {
		level = "info"
	}
	// An explicit XLFacilityMinLogLevel environment variable overrides the
	// file, matching the Facility's own Default() precedence (spec §6).
	if envLevel := os.Getenv("XLFacilityMinLogLevel"); envLevel != "" {
		level = envLevel
	}
	parsed, ok := xlfacility.ParseLevel(level)
	if !ok {
		return fmt.Errorf("min_log_level: %q is not a recognized level", level)
	}
	c.ParsedMinLogLevel = parsed

	if err := validateLevel("file.level", levelOf(c.File != nil, func() string { return c.File.Level })); err != nil {
		return err
	}
	if c.File != nil && c.File.Path == "" {
		return fmt.Errorf("file.path is required when file sink is configured")
	}

	if err := validateLevel("stderr.level", levelOf(c.Stderr != nil, func() string { return c.Stderr.Level })); err != nil {
		return err
	}

	if c.TCPServer != nil {
		if c.TCPServer.Listen == "" {
			return fmt.Errorf("tcp_server.listen is required when tcp_server sink is configured")
		}
		if err := validateLevel("tcp_server.level", c.TCPServer.Level); err != nil {
			return err
		}
		if c.TCPServer.HistoryMax < 0 {
			return fmt.Errorf("tcp_server.history_max_lines must be >= 0")
		}
	}

	if c.TCPClient != nil {
		if c.TCPClient.Connect == "" {
			return fmt.Errorf("tcp_client.connect is required when tcp_client sink is configured")
		}
		if err := validateLevel("tcp_client.level", c.TCPClient.Level); err != nil {
			return err
		}
		if c.TCPClient.HistoryMax < 0 {
			return fmt.Errorf("tcp_client.history_max_lines must be >= 0")
		}
	}

	if c.Telnet != nil {
		if c.Telnet.Listen == "" {
			return fmt.Errorf("telnet.listen is required when telnet sink is configured")
		}
		if err := validateLevel("telnet.level", c.Telnet.Level); err != nil {
			return err
		}
		if c.Telnet.MaxHistorySize <= 0 {
			c.Telnet.MaxHistorySize = 100
		}
		if c.Telnet.HistoryMax < 0 {
			return fmt.Errorf("telnet.history_max_lines must be >= 0")
		}
	}

	if c.HTTP != nil {
		if c.HTTP.Listen == "" {
			return fmt.Errorf("http.listen is required when http sink is configured")
		}
		if c.HTTP.History == "" {
			return fmt.Errorf("http.history is required: the long-poll sink cannot serve /log without a history store")
		}
		if err := validateLevel("http.level", c.HTTP.Level); err != nil {
			return err
		}
		if c.HTTP.HistoryMax < 0 {
			return fmt.Errorf("http.history_max_lines must be >= 0")
		}
	}

	return nil
}

func levelOf(present bool, get func() string) string {
	if !present {
		return ""
	}
	return get()
}

func validateLevel(field, level string) error {
	if level == "" {
		return nil
	}
	if _, ok := xlfacility.ParseLevel(level); !ok {
		return fmt.Errorf("%s: %q is not a recognized level", field, level)
	}
	return nil
}
