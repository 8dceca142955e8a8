package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/guseggert/stdipc/ipc"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

// Config is the optional TOML config file. Flags given on the command line take precedence over it.
type Config struct {
	Interval          string   `toml:"interval"`
	HeartbeatInterval string   `toml:"heartbeat-interval"`
	RequireCapability bool     `toml:"require-capability"`
	MarkerExt         string   `toml:"marker-ext"`
	LogLevel          string   `toml:"log-level"`
	ListenAddr        string   `toml:"listen-addr"`
	HeartbeatTimeout  string   `toml:"heartbeat-timeout"`
	RateLimit         float64  `toml:"rate-limit"`
	RateBurst         int      `toml:"rate-burst"`
	EnvAllow          []string `toml:"env-allow"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}
	return &c, nil
}

// settings are the resolved options of one run.
type settings struct {
	interval          time.Duration
	heartbeatInterval time.Duration
	requireCapability bool
	markerExt         string
	logLevel          zapcore.Level
	listenAddr        string
	heartbeatTimeout  time.Duration
	rateLimit         float64
	rateBurst         int
	envAllow          []string
	parentArgs        []string
}

func parseDuration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

// resolveSettings merges the defaults, the config file and the explicitly set flags, in that order.
func resolveSettings(c *cli.Context) (*settings, error) {
	// flags after the PID are not parsed, so they would be silently ignored
	if c.NArg() > 1 {
		return nil, fmt.Errorf("expected at most one argument, HOST_PID, after the flags, got %q", c.Args().Slice())
	}
	cfg := &Config{
		Interval:  ipc.DefaultInterval.String(),
		MarkerExt: ipc.DefaultMarkerExt,
		LogLevel:  "info",
		RateBurst: 1,
	}
	if path := c.String("config"); path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		mergeConfig(cfg, fileCfg)
	}

	if c.IsSet("interval") {
		cfg.Interval = c.String("interval")
	}
	if c.IsSet("heartbeat-interval") {
		cfg.HeartbeatInterval = c.String("heartbeat-interval")
	}
	if c.IsSet("require-capability") {
		cfg.RequireCapability = c.Bool("require-capability")
	}
	if c.IsSet("marker-ext") {
		cfg.MarkerExt = c.String("marker-ext")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("listen-addr") {
		cfg.ListenAddr = c.String("listen-addr")
	}
	if c.IsSet("heartbeat-timeout") {
		cfg.HeartbeatTimeout = c.String("heartbeat-timeout")
	}
	if c.IsSet("rate-limit") {
		cfg.RateLimit = c.Float64("rate-limit")
	}
	if c.IsSet("rate-burst") {
		cfg.RateBurst = c.Int("rate-burst")
	}
	if c.IsSet("env-allow") {
		cfg.EnvAllow = c.StringSlice("env-allow")
	}

	s := &settings{
		requireCapability: cfg.RequireCapability,
		markerExt:         cfg.MarkerExt,
		listenAddr:        cfg.ListenAddr,
		rateLimit:         cfg.RateLimit,
		rateBurst:         cfg.RateBurst,
		envAllow:          cfg.EnvAllow,
		parentArgs:        c.Args().Slice(),
	}
	var err error
	if s.interval, err = parseDuration("interval", cfg.Interval); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval != "" {
		if s.heartbeatInterval, err = parseDuration("heartbeat interval", cfg.HeartbeatInterval); err != nil {
			return nil, err
		}
	}
	if cfg.HeartbeatTimeout != "" {
		if s.heartbeatTimeout, err = parseDuration("heartbeat timeout", cfg.HeartbeatTimeout); err != nil {
			return nil, err
		}
	}
	if s.logLevel, err = zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	if s.rateLimit > 0 && s.rateBurst < 1 {
		return nil, fmt.Errorf("rate burst must be at least 1, got %d", s.rateBurst)
	}
	return s, nil
}

// mergeConfig copies the values set in src over dst.
func mergeConfig(dst, src *Config) {
	if src.Interval != "" {
		dst.Interval = src.Interval
	}
	if src.HeartbeatInterval != "" {
		dst.HeartbeatInterval = src.HeartbeatInterval
	}
	if src.RequireCapability {
		dst.RequireCapability = true
	}
	if src.MarkerExt != "" {
		dst.MarkerExt = src.MarkerExt
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.HeartbeatTimeout != "" {
		dst.HeartbeatTimeout = src.HeartbeatTimeout
	}
	if src.RateLimit != 0 {
		dst.RateLimit = src.RateLimit
	}
	if src.RateBurst != 0 {
		dst.RateBurst = src.RateBurst
	}
	if len(src.EnvAllow) > 0 {
		dst.EnvAllow = src.EnvAllow
	}
}
