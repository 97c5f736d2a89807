package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tanq16/segload/internal/engine"
	"github.com/tanq16/segload/internal/utils"
)

const envPrefix = "SEGLOAD_"

// Config holds the settings shared by every job of a run.
type Config struct {
	Connections      int               `yaml:"connections"`
	MaxSegmentSize   int64             `yaml:"max_segment_size"`
	Concurrency      int               `yaml:"concurrency"`
	Workers          int               `yaml:"workers"`
	Retries          int               `yaml:"retries"`
	RetryBackoff     time.Duration     `yaml:"retry_backoff"`
	Timeout          time.Duration     `yaml:"timeout"`
	KeepAliveTimeout time.Duration     `yaml:"keep_alive_timeout"`
	UserAgent        string            `yaml:"user_agent"`
	Proxy            string            `yaml:"proxy"`
	Headers          map[string]string `yaml:"headers"`
	RateLimit        int64             `yaml:"rate_limit"`
	FailFast         bool              `yaml:"fail_fast"`
	SplitOversized   bool              `yaml:"split_oversized"`
	Overwrite        bool              `yaml:"overwrite"`
	SpeedInterval    time.Duration     `yaml:"speed_interval"`
	HistoryPath      string            `yaml:"history_path"`
}

func Default() Config {
	return Config{
		Connections:      8,
		Workers:          1,
		RetryBackoff:     500 * time.Millisecond,
		Timeout:          3 * time.Minute,
		KeepAliveTimeout: 90 * time.Second,
		UserAgent:        utils.ToolUserAgent,
		SpeedInterval:    time.Second,
		HistoryPath:      defaultHistoryPath(),
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".segload-history.db"
	}
	return filepath.Join(home, ".segload", "history.db")
}

// yamlConfig takes sizes and durations as strings ("8MiB", "30s").
type yamlConfig struct {
	Connections      int               `yaml:"connections"`
	MaxSegmentSize   string            `yaml:"max_segment_size"`
	Concurrency      int               `yaml:"concurrency"`
	Workers          int               `yaml:"workers"`
	Retries          int               `yaml:"retries"`
	RetryBackoff     string            `yaml:"retry_backoff"`
	Timeout          string            `yaml:"timeout"`
	KeepAliveTimeout string            `yaml:"keep_alive_timeout"`
	UserAgent        string            `yaml:"user_agent"`
	Proxy            string            `yaml:"proxy"`
	Headers          map[string]string `yaml:"headers"`
	RateLimit        string            `yaml:"rate_limit"`
	FailFast         bool              `yaml:"fail_fast"`
	SplitOversized   bool              `yaml:"split_oversized"`
	Overwrite        bool              `yaml:"overwrite"`
	SpeedInterval    string            `yaml:"speed_interval"`
	HistoryPath      string            `yaml:"history_path"`
}

func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	override := Config{
		Connections:    yc.Connections,
		Concurrency:    yc.Concurrency,
		Workers:        yc.Workers,
		Retries:        yc.Retries,
		UserAgent:      yc.UserAgent,
		Proxy:          yc.Proxy,
		Headers:        yc.Headers,
		FailFast:       yc.FailFast,
		SplitOversized: yc.SplitOversized,
		Overwrite:      yc.Overwrite,
		HistoryPath:    yc.HistoryPath,
	}
	sizes := []struct {
		name  string
		value string
		dest  *int64
	}{
		{"max_segment_size", yc.MaxSegmentSize, &override.MaxSegmentSize},
		{"rate_limit", yc.RateLimit, &override.RateLimit},
	}
	for _, s := range sizes {
		if s.value == "" {
			continue
		}
		if *s.dest, err = utils.ParseBytes(s.value); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.name, err)
		}
	}
	durations := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"retry_backoff", yc.RetryBackoff, &override.RetryBackoff},
		{"timeout", yc.Timeout, &override.Timeout},
		{"keep_alive_timeout", yc.KeepAliveTimeout, &override.KeepAliveTimeout},
		{"speed_interval", yc.SpeedInterval, &override.SpeedInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if *d.dest, err = time.ParseDuration(d.value); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
	}
	return cfg.Merge(override), nil
}

// LoadFromEnv applies SEGLOAD_* environment variables on top of c.
func (c *Config) LoadFromEnv() error {
	ints := map[string]*int{
		"CONNECTIONS": &c.Connections,
		"CONCURRENCY": &c.Concurrency,
		"WORKERS":     &c.Workers,
		"RETRIES":     &c.Retries,
	}
	for name, dest := range ints {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
			}
			*dest = n
		}
	}
	sizes := map[string]*int64{
		"MAX_SEGMENT_SIZE": &c.MaxSegmentSize,
		"RATE_LIMIT":       &c.RateLimit,
	}
	for name, dest := range sizes {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := utils.ParseBytes(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
			}
			*dest = n
		}
	}
	durations := map[string]*time.Duration{
		"RETRY_BACKOFF":      &c.RetryBackoff,
		"TIMEOUT":            &c.Timeout,
		"KEEP_ALIVE_TIMEOUT": &c.KeepAliveTimeout,
		"SPEED_INTERVAL":     &c.SpeedInterval,
	}
	for name, dest := range durations {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
			}
			*dest = d
		}
	}
	bools := map[string]*bool{
		"FAIL_FAST":       &c.FailFast,
		"SPLIT_OVERSIZED": &c.SplitOversized,
		"OVERWRITE":       &c.Overwrite,
	}
	for name, dest := range bools {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dest = v == "true" || v == "1"
		}
	}
	if v := os.Getenv(envPrefix + "USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv(envPrefix + "PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv(envPrefix + "HISTORY_PATH"); v != "" {
		c.HistoryPath = v
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.Connections < 1:
		return errors.New("config: connections must be at least 1")
	case c.MaxSegmentSize < 0:
		return errors.New("config: max_segment_size must not be negative")
	case c.Concurrency < 0:
		return errors.New("config: concurrency must not be negative")
	case c.Workers < 1:
		return errors.New("config: workers must be at least 1")
	case c.Retries < 0:
		return errors.New("config: retries must not be negative")
	case c.RateLimit < 0:
		return errors.New("config: rate_limit must not be negative")
	case c.Timeout < 0 || c.KeepAliveTimeout < 0 || c.RetryBackoff < 0 || c.SpeedInterval < 0:
		return errors.New("config: durations must not be negative")
	}
	return nil
}

// Merge returns c with the non-zero fields of override applied.
func (c Config) Merge(override Config) Config {
	if override.Connections != 0 {
		c.Connections = override.Connections
	}
	if override.MaxSegmentSize != 0 {
		c.MaxSegmentSize = override.MaxSegmentSize
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.Retries != 0 {
		c.Retries = override.Retries
	}
	if override.RetryBackoff != 0 {
		c.RetryBackoff = override.RetryBackoff
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.KeepAliveTimeout != 0 {
		c.KeepAliveTimeout = override.KeepAliveTimeout
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.Proxy != "" {
		c.Proxy = override.Proxy
	}
	if len(override.Headers) > 0 {
		merged := make(map[string]string, len(c.Headers)+len(override.Headers))
		for k, v := range c.Headers {
			merged[k] = v
		}
		for k, v := range override.Headers {
			merged[k] = v
		}
		c.Headers = merged
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.FailFast {
		c.FailFast = true
	}
	if override.SplitOversized {
		c.SplitOversized = true
	}
	if override.Overwrite {
		c.Overwrite = true
	}
	if override.SpeedInterval != 0 {
		c.SpeedInterval = override.SpeedInterval
	}
	if override.HistoryPath != "" {
		c.HistoryPath = override.HistoryPath
	}
	return c
}

func (c Config) EngineOptions() engine.Options {
	return engine.Options{
		FailFast:      c.FailFast,
		Retries:       c.Retries,
		RetryBackoff:  c.RetryBackoff,
		RateLimit:     c.RateLimit,
		Overwrite:     c.Overwrite,
		SpeedInterval: c.SpeedInterval,
	}
}

// HTTPClientConfig maps transport settings. Credentials embedded in the proxy
// URL are split out as the client expects them separately.
func (c Config) HTTPClientConfig() utils.HTTPClientConfig {
	cfg := utils.HTTPClientConfig{
		Timeout:        c.Timeout,
		KATimeout:      c.KeepAliveTimeout,
		ProxyURL:       c.Proxy,
		UserAgent:      c.UserAgent,
		Headers:        c.Headers,
		HighThreadMode: c.Connections > 5,
	}
	if c.UserAgent == "randomize" {
		cfg.UserAgent = utils.GetRandomUserAgent()
	}
	cfg.ProxyURL, cfg.ProxyUsername, cfg.ProxyPassword = utils.SplitProxyAuth(c.Proxy)
	return cfg
}
