// Package config loads and validates the process configuration surface: a
// flat set of environment variables, which the standard library handles
// without ceremony (see DESIGN.md for why no third-party config library is
// used here).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// FatalStartupError marks a configuration problem that must abort process
// startup with a non-zero exit code.
type FatalStartupError struct {
	Field string
	Err   error
}

func (e *FatalStartupError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *FatalStartupError) Unwrap() error { return e.Err }

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	FailureRate     float64
	OpenDurationMs  time.Duration
	HalfOpenTrials  uint32
	RollingWindow   uint32
}

// Config is the full set of process tunables.
type Config struct {
	BufferCapacity      int           // bufferCapacity (C)
	FlushInterval       time.Duration // flushIntervalMs (Tflush)
	BatchMin            int           // batchMin (Bmin)
	BatchMax            int           // batchMax (Bmax)
	TargetLatency       time.Duration // targetLatencyMs (Lt)
	PublishTimeout      time.Duration // pubTimeoutMs (Tpub)
	SystemFailureBackoff time.Duration // systemFailureBackoffMs (B0)
	MaxBackoff          time.Duration // maxBackoffMs
	Breaker             BreakerConfig

	StreamName   string // streamName
	ConsumerName string // consumerName
	DestTopic    string // destTopic

	KafkaBrokers []string
	PostgresDSN  string

	QuarantineDiskPath string
	HTTPAddr           string
}

// Default returns the documented defaults, before environment overrides.
func Default() Config {
	return Config{
		BufferCapacity:       10_000,
		FlushInterval:        200 * time.Millisecond,
		BatchMin:             16,
		BatchMax:             2_048,
		TargetLatency:        250 * time.Millisecond,
		PublishTimeout:       5 * time.Second,
		SystemFailureBackoff: 500 * time.Millisecond,
		MaxBackoff:           60 * time.Second,
		Breaker: BreakerConfig{
			FailureRate:    0.5,
			OpenDurationMs: 30 * time.Second,
			HalfOpenTrials: 5,
			RollingWindow:  20,
		},
		StreamName:         "trade-events",
		ConsumerName:       "trade-ingress",
		DestTopic:          "trade-events.outbound",
		QuarantineDiskPath: "/var/lib/trade-ingress/quarantine",
		HTTPAddr:           ":8080",
	}
}

// FromEnv loads Config from environment variables over Default(), then
// validates the result. It never panics; all problems are returned as
// *FatalStartupError so cmd/ingressd can exit non-zero.
func FromEnv(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if v := getenv("BUFFER_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"BUFFER_CAPACITY", err}
		}
		cfg.BufferCapacity = n
	}
	if v := getenv("FLUSH_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"FLUSH_INTERVAL_MS", err}
		}
		cfg.FlushInterval = time.Duration(n) * time.Millisecond
	}
	if v := getenv("BATCH_MIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"BATCH_MIN", err}
		}
		cfg.BatchMin = n
	}
	if v := getenv("BATCH_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"BATCH_MAX", err}
		}
		cfg.BatchMax = n
	}
	if v := getenv("TARGET_LATENCY_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"TARGET_LATENCY_MS", err}
		}
		cfg.TargetLatency = time.Duration(n) * time.Millisecond
	}
	if v := getenv("PUB_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"PUB_TIMEOUT_MS", err}
		}
		cfg.PublishTimeout = time.Duration(n) * time.Millisecond
	}
	if v := getenv("SYSTEM_FAILURE_BACKOFF_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"SYSTEM_FAILURE_BACKOFF_MS", err}
		}
		cfg.SystemFailureBackoff = time.Duration(n) * time.Millisecond
	}
	if v := getenv("MAX_BACKOFF_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"MAX_BACKOFF_MS", err}
		}
		cfg.MaxBackoff = time.Duration(n) * time.Millisecond
	}
	if v := getenv("BREAKER_FAILURE_RATE"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, &FatalStartupError{"BREAKER_FAILURE_RATE", err}
		}
		cfg.Breaker.FailureRate = n
	}
	if v := getenv("BREAKER_OPEN_DURATION_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, &FatalStartupError{"BREAKER_OPEN_DURATION_MS", err}
		}
		cfg.Breaker.OpenDurationMs = time.Duration(n) * time.Millisecond
	}
	if v := getenv("STREAM_NAME"); v != "" {
		cfg.StreamName = v
	}
	if v := getenv("CONSUMER_NAME"); v != "" {
		cfg.ConsumerName = v
	}
	if v := getenv("DEST_TOPIC"); v != "" {
		cfg.DestTopic = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := getenv("QUARANTINE_DISK_PATH"); v != "" {
		cfg.QuarantineDiskPath = v
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants the individual parsers cannot.
func (c Config) Validate() error {
	if c.BatchMin <= 0 || c.BatchMax < c.BatchMin {
		return &FatalStartupError{"BATCH_MIN/BATCH_MAX", fmt.Errorf("require 0 < batchMin <= batchMax, got %d/%d", c.BatchMin, c.BatchMax)}
	}
	if c.BufferCapacity <= 0 {
		return &FatalStartupError{"BUFFER_CAPACITY", fmt.Errorf("must be positive, got %d", c.BufferCapacity)}
	}
	if c.PublishTimeout <= 0 {
		return &FatalStartupError{"PUB_TIMEOUT_MS", fmt.Errorf("must be positive")}
	}
	if c.MaxBackoff < c.SystemFailureBackoff {
		return &FatalStartupError{"MAX_BACKOFF_MS", fmt.Errorf("must be >= systemFailureBackoffMs")}
	}
	if len(c.KafkaBrokers) == 0 {
		return &FatalStartupError{"KAFKA_BROKERS", fmt.Errorf("at least one broker is required")}
	}
	if c.PostgresDSN == "" {
		return &FatalStartupError{"POSTGRES_DSN", fmt.Errorf("must not be empty")}
	}
	if c.DestTopic == "" {
		return &FatalStartupError{"DEST_TOPIC", fmt.Errorf("must not be empty")}
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
