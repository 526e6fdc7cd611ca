package config

import (
	"fmt"
	"time"

	"github.com/fluxorio/syncpool/pkg/core/concurrency"
)

// AppConfig is the configuration of the syncpool binary.
type AppConfig struct {
	Pool       PoolConfig       `yaml:"pool" json:"pool"`
	Buffer     BufferConfig     `yaml:"buffer" json:"buffer"`
	TimeServer TimeServerConfig `yaml:"time_server" json:"time_server"`
	NATS       NATSConfig       `yaml:"nats" json:"nats"`
	Admin      AdminConfig      `yaml:"admin" json:"admin"`
	Log        LogConfig        `yaml:"log" json:"log"`
	Tracing    TracingConfig    `yaml:"tracing" json:"tracing"`
}

// PoolConfig sizes the worker pool. Out-of-range worker counts are clamped by
// the pool itself, not rejected here.
type PoolConfig struct {
	Name    string `yaml:"name" json:"name"`
	Workers int    `yaml:"workers" json:"workers"`
}

// BufferConfig sizes the demo bounded buffer.
type BufferConfig struct {
	Name     string `yaml:"name" json:"name"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

// TimeServerConfig configures the TCP time server.
type TimeServerConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MaxLineBytes int           `yaml:"max_line_bytes" json:"max_line_bytes"`
}

// NATSConfig configures the NATS time responder.
type NATSConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	URL            string        `yaml:"url" json:"url"`
	Embedded       bool          `yaml:"embedded" json:"embedded"`
	SubjectPrefix  string        `yaml:"subject_prefix" json:"subject_prefix"`
	QueueGroup     string        `yaml:"queue_group" json:"queue_group"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// AdminConfig configures the metrics/stats HTTP endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TracingConfig configures job tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
	PrettyPrint bool   `yaml:"pretty_print" json:"pretty_print"`
}

// DefaultAppConfig returns the configuration used when no file is given.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Pool:   PoolConfig{Name: "time-pool", Workers: concurrency.DefaultWorkers},
		Buffer: BufferConfig{Name: "demo-buffer", Capacity: 4},
		TimeServer: TimeServerConfig{
			Enabled:      true,
			Addr:         "127.0.0.1:5000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Second,
			MaxLineBytes: 1024,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			SubjectPrefix:  "syncpool",
			QueueGroup:     "time-responders",
			RequestTimeout: 2 * time.Second,
		},
		Admin:   AdminConfig{Enabled: true, Addr: "127.0.0.1:9090"},
		Log:     LogConfig{Level: "info", Format: "console"},
		Tracing: TracingConfig{ServiceName: "syncpool"},
	}
}

// LoadApp starts from DefaultAppConfig, overlays the file at path (if any)
// and the environment, then validates the result.
func LoadApp(path, envPrefix string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if err := LoadWithEnv(path, envPrefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the binary cannot run without.
func (c *AppConfig) Validate() error {
	timeServerOn := func(interface{}) bool { return c.TimeServer.Enabled }
	natsOn := func(interface{}) bool { return c.NATS.Enabled }
	adminOn := func(interface{}) bool { return c.Admin.Enabled }

	err := Validate(c,
		OneOfValidator("Log.Level", "debug", "info", "warn", "error"),
		OneOfValidator("Log.Format", "console", "json"),
		When(timeServerOn, RequiredFields("TimeServer.Addr")),
		When(timeServerOn, RangeValidator("TimeServer.MaxLineBytes", 16, 1<<20)),
		When(natsOn, RequiredFields("NATS.SubjectPrefix", "NATS.QueueGroup")),
		When(natsOn, RangeValidator("NATS.RequestTimeout", float64(time.Millisecond), float64(time.Minute))),
		When(adminOn, RequiredFields("Admin.Addr")),
	)
	if err != nil {
		return err
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("validation failed: nats.url is required unless nats.embedded is set")
	}
	return nil
}
