// File: utils/config.go
package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lguibr/twothread/logging"
)

// Overflow policy names accepted in configuration.
const (
	OverflowDropNewest = "drop_newest"
	OverflowDropOldest = "drop_oldest"
)

// Config holds all configurable demo parameters.
type Config struct {
	Reader  ReaderConfig   `yaml:"reader" json:"reader"`
	Writer  WriterConfig   `yaml:"writer" json:"writer"`
	Monitor MonitorConfig  `yaml:"monitor" json:"monitor"`
	Logging logging.Config `yaml:"logging" json:"logging"`

	// ShutdownTimeout bounds the wait for every dispatcher to drain and exit.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// ReaderConfig drives the meter reader agent.
type ReaderConfig struct {
	Dispatcher      string        `yaml:"dispatcher" json:"dispatcher"`           // Dispatcher (worker thread) name
	Period          time.Duration `yaml:"period" json:"period"`                   // Time between acquisition turns
	ReadDuration    time.Duration `yaml:"readDuration" json:"readDuration"`       // Simulated meter read time
	MailboxCapacity int           `yaml:"mailboxCapacity" json:"mailboxCapacity"` // 0 means unbounded
	Overflow        string        `yaml:"overflow" json:"overflow"`               // drop_newest or drop_oldest
}

// WriterConfig drives the file writer agent.
type WriterConfig struct {
	Dispatcher      string        `yaml:"dispatcher" json:"dispatcher"`
	MinPause        time.Duration `yaml:"minPause" json:"minPause"` // Lower bound of the simulated write time
	MaxPause        time.Duration `yaml:"maxPause" json:"maxPause"` // Upper bound of the simulated write time
	MailboxCapacity int           `yaml:"mailboxCapacity" json:"mailboxCapacity"`
	Overflow        string        `yaml:"overflow" json:"overflow"`

	// OutputDir, when set, receives one file per write request.
	OutputDir string `yaml:"outputDir" json:"outputDir"`
	// PersistAttempts bounds the retries of a failing file write.
	PersistAttempts int `yaml:"persistAttempts" json:"persistAttempts"`
}

// MonitorConfig configures the websocket event feed.
type MonitorConfig struct {
	Addr   string `yaml:"addr" json:"addr"`     // Listen address; empty disables the monitor
	Buffer int    `yaml:"buffer" json:"buffer"` // Pending events kept before dropping
}

// DefaultConfig returns a Config struct with default values.
func DefaultConfig() Config {
	return Config{
		Reader: ReaderConfig{
			Dispatcher:      "meter_reader",
			Period:          300 * time.Millisecond,
			ReadDuration:    50 * time.Millisecond,
			MailboxCapacity: 1,
			Overflow:        OverflowDropNewest,
		},
		Writer: WriterConfig{
			Dispatcher:      "file_writer",
			MinPause:        295 * time.Millisecond,
			MaxPause:        1000 * time.Millisecond,
			MailboxCapacity: 2,
			Overflow:        OverflowDropOldest,
			PersistAttempts: 3,
		},
		Monitor: MonitorConfig{
			Buffer: 256,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// ErrInvalidConfig is returned when Validate finds a problem.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration for values the demo cannot run with.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Reader.Dispatcher == "" {
		add("reader.dispatcher must be set")
	}
	if c.Writer.Dispatcher == "" {
		add("writer.dispatcher must be set")
	}
	if c.Reader.Dispatcher != "" && c.Reader.Dispatcher == c.Writer.Dispatcher {
		add("reader and writer must run on different dispatchers, both are %q", c.Reader.Dispatcher)
	}
	if c.Reader.Period <= 0 {
		add("reader.period must be positive, got %s", c.Reader.Period)
	}
	if c.Reader.ReadDuration < 0 {
		add("reader.readDuration cannot be negative, got %s", c.Reader.ReadDuration)
	}
	if c.Reader.MailboxCapacity < 0 {
		add("reader.mailboxCapacity cannot be negative, got %d", c.Reader.MailboxCapacity)
	}
	if !validOverflow(c.Reader.Overflow) {
		add("reader.overflow must be %s or %s, got %q", OverflowDropNewest, OverflowDropOldest, c.Reader.Overflow)
	}
	if c.Writer.MinPause < 0 || c.Writer.MaxPause < c.Writer.MinPause {
		add("writer pause range [%s, %s] is invalid", c.Writer.MinPause, c.Writer.MaxPause)
	}
	if c.Writer.MailboxCapacity < 0 {
		add("writer.mailboxCapacity cannot be negative, got %d", c.Writer.MailboxCapacity)
	}
	if !validOverflow(c.Writer.Overflow) {
		add("writer.overflow must be %s or %s, got %q", OverflowDropNewest, OverflowDropOldest, c.Writer.Overflow)
	}
	if c.Writer.PersistAttempts < 1 {
		add("writer.persistAttempts must be at least 1, got %d", c.Writer.PersistAttempts)
	}
	if c.Monitor.Buffer < 1 {
		add("monitor.buffer must be at least 1, got %d", c.Monitor.Buffer)
	}
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		add("logging.level %q is unknown", c.Logging.Level)
	}
	if f := c.Logging.Format; f != "" && f != "json" && f != "console" {
		add("logging.format must be json or console, got %q", f)
	}
	if c.ShutdownTimeout <= 0 {
		add("shutdownTimeout must be positive, got %s", c.ShutdownTimeout)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func validOverflow(s string) bool {
	return s == OverflowDropNewest || s == OverflowDropOldest
}
