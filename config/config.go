// Package config loads netwatch settings from a json or yaml file and from
// NETWATCH_* environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/jinmuyano/netwatch/logging"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	// MinInterval is the finest cadence the report scheduler supports.
	MinInterval = time.Second
)

// Config is the complete netwatch configuration.
type Config struct {
	Capture     CaptureConfig     `json:"capture" yaml:"capture"`
	Report      ReportConfig      `json:"report" yaml:"report"`
	Attribution AttributionConfig `json:"attribution" yaml:"attribution"`
	Limits      LimitsConfig      `json:"limits" yaml:"limits"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
}

type CaptureConfig struct {
	// Interface is the device to capture on. Empty picks a default.
	Interface   string `json:"interface" yaml:"interface"`
	SnapLen     int    `json:"snapLen" yaml:"snapLen"`
	Promiscuous bool   `json:"promiscuous" yaml:"promiscuous"`
	// Filter is an optional BPF expression.
	Filter string `json:"filter" yaml:"filter"`
	// PcapFile, when set, receives a copy of every captured frame.
	PcapFile string `json:"pcapFile" yaml:"pcapFile"`
	// Debug logs every decoded packet.
	Debug bool `json:"debug" yaml:"debug"`
}

type ReportConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`
	// Limit caps the processes printed per text report; 0 prints all.
	Limit int `json:"limit" yaml:"limit"`
}

// UnmarshalJSON accepts the interval as a duration string ("3s") or as
// integer nanoseconds.
func (r *ReportConfig) UnmarshalJSON(data []byte) error {
	type plain ReportConfig
	aux := struct {
		*plain
		Interval interface{} `json:"interval"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Interval != nil {
		d, err := cast.ToDurationE(aux.Interval)
		if err != nil {
			return errors.Wrap(err, "report interval")
		}
		r.Interval = d
	}
	return nil
}

func (r ReportConfig) MarshalJSON() ([]byte, error) {
	type plain ReportConfig
	return json.Marshal(struct {
		plain
		Interval string `json:"interval"`
	}{plain(r), r.Interval.String()})
}

type AttributionConfig struct {
	FastPathFile   string `json:"fastPathFile" yaml:"fastPathFile"`
	ProcRoot       string `json:"procRoot" yaml:"procRoot"`
	EstablishedTCP bool   `json:"establishedTCP" yaml:"establishedTCP"`
}

// LimitsConfig bounds netwatch's own resource use through a cgroup. Zero
// values disable the limit.
type LimitsConfig struct {
	CPUCores float64 `json:"cpuCores" yaml:"cpuCores"`
	MemoryMB int     `json:"memoryMB" yaml:"memoryMB"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path. Empty logs to stdout only.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			SnapLen: 65536,
		},
		Report: ReportConfig{
			Interval: time.Second,
			Format:   FormatText,
		},
		Attribution: AttributionConfig{
			FastPathFile: "/proc/pid_inode_map",
			ProcRoot:     "/proc",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a .json, .yaml or .yml file over cfg.
func LoadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return errors.Wrap(err, "parse json config")
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return errors.Wrap(err, "parse yaml config")
		}
	default:
		return errors.Errorf("unsupported config file format: %s", path)
	}
	return nil
}

// LoadFromEnv overrides cfg with any NETWATCH_* variables that are set.
// Values that do not convert are ignored.
func LoadFromEnv(cfg *Config) {
	// capture
	envString("NETWATCH_INTERFACE", &cfg.Capture.Interface)
	envInt("NETWATCH_SNAPLEN", &cfg.Capture.SnapLen)
	envBool("NETWATCH_PROMISCUOUS", &cfg.Capture.Promiscuous)
	envString("NETWATCH_FILTER", &cfg.Capture.Filter)
	envString("NETWATCH_PCAP_FILE", &cfg.Capture.PcapFile)
	envBool("NETWATCH_DEBUG", &cfg.Capture.Debug)

	// report
	if val := os.Getenv("NETWATCH_INTERVAL"); val != "" {
		if d, err := cast.ToDurationE(val); err == nil {
			cfg.Report.Interval = d
		}
	}
	envString("NETWATCH_FORMAT", &cfg.Report.Format)
	envInt("NETWATCH_LIMIT", &cfg.Report.Limit)

	// attribution
	envString("NETWATCH_FAST_PATH_FILE", &cfg.Attribution.FastPathFile)
	envString("NETWATCH_PROC_ROOT", &cfg.Attribution.ProcRoot)
	envBool("NETWATCH_ESTABLISHED_TCP", &cfg.Attribution.EstablishedTCP)

	// limits
	if val := os.Getenv("NETWATCH_CPU_CORES"); val != "" {
		if f, err := cast.ToFloat64E(val); err == nil {
			cfg.Limits.CPUCores = f
		}
	}
	envInt("NETWATCH_MEMORY_MB", &cfg.Limits.MemoryMB)

	// logging
	envString("NETWATCH_LOG_LEVEL", &cfg.Logging.Level)
	envString("NETWATCH_LOG_FILE", &cfg.Logging.File)
	envInt("NETWATCH_LOG_MAX_SIZE", &cfg.Logging.MaxSize)
	envInt("NETWATCH_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	envInt("NETWATCH_LOG_MAX_AGE", &cfg.Logging.MaxAge)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := cast.ToIntE(val); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := cast.ToBoolE(val); err == nil {
			*dst = b
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Capture.SnapLen <= 0 {
		return errors.Errorf("invalid snaplen: %d", c.Capture.SnapLen)
	}

	if c.Report.Interval < MinInterval {
		return errors.Errorf("report interval %s is below %s", c.Report.Interval, MinInterval)
	}
	if c.Report.Interval%time.Second != 0 {
		return errors.Errorf("report interval %s is not a whole number of seconds", c.Report.Interval)
	}
	switch c.Report.Format {
	case FormatText, FormatJSON:
	default:
		return errors.Errorf("invalid report format: %s", c.Report.Format)
	}
	if c.Report.Limit < 0 {
		return errors.Errorf("invalid report limit: %d", c.Report.Limit)
	}

	if c.Attribution.ProcRoot == "" {
		return errors.New("proc root cannot be empty")
	}

	if c.Limits.CPUCores < 0 {
		return errors.Errorf("invalid cpu limit: %v", c.Limits.CPUCores)
	}
	if c.Limits.MemoryMB < 0 {
		return errors.Errorf("invalid memory limit: %d", c.Limits.MemoryMB)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	logging.SetLevel(level)

	// json reports own stdout
	if c.Report.Format == FormatJSON {
		logging.SetConsole(os.Stderr)
	} else {
		logging.SetConsole(os.Stdout)
	}

	if c.Logging.File == "" {
		return nil
	}

	err = logging.EnableFileLogging(
		filepath.Dir(c.Logging.File),
		filepath.Base(c.Logging.File),
		c.Logging.MaxSize,
		c.Logging.MaxBackups,
		c.Logging.MaxAge,
	)
	if err != nil {
		return errors.Wrap(err, "enable file logging")
	}
	return nil
}

// SaveToFile writes the configuration as json or yaml, by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return errors.Wrap(err, "marshal config to json")
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return errors.Wrap(err, "marshal config to yaml")
		}
	default:
		return errors.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}
