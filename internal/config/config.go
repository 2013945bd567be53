// Package config loads the fleet monitor's YAML configuration: read a
// file, unmarshal, fill defaults. It additionally layers environment-
// variable overrides (via a local .env plus os.Getenv) on top, since §6
// specifies this service's configuration surface as environment-driven.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Bus configures the telemetry bus consumer/producer (§4.6, §11).
type Bus struct {
	Brokers          []string `yaml:"brokers"`
	ConsumerGroup    string   `yaml:"consumer_group"`
	HeartbeatTopic   string   `yaml:"heartbeat_topic"`
	ReadingsTopic    string   `yaml:"readings_topic"`
	FailureTopic     string   `yaml:"sensor_failure_topic"`
	RestartTopic     string   `yaml:"restart_topic"`
	AtRiskTopic      string   `yaml:"at_risk_topic"`
	ReconnectDelayMs int      `yaml:"reconnect_delay_ms"`
}

// PMS configures the production management system RPC client (§4.9).
type PMS struct {
	Endpoint           string `yaml:"endpoint"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxAttempts        int    `yaml:"max_attempts"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
	CircuitMaxFailures int    `yaml:"circuit_max_failures"`
	CircuitOpenSeconds int    `yaml:"circuit_open_seconds"`
}

// Persistence configures the append-only/upsert storage backend (§4.8).
type Persistence struct {
	DSN             string `yaml:"dsn"`
	RetryQueueDepth int    `yaml:"retry_queue_depth"`
	MaxWriteRetries int    `yaml:"max_write_retries"`
}

// Thresholds holds every tunable constant named in §6 Configuration.
type Thresholds struct {
	HeartbeatTimeoutSeconds   int     `yaml:"heartbeat_timeout_seconds"`
	SensorTimeoutSeconds      int     `yaml:"sensor_timeout_seconds"`
	MissedHeartbeatsThreshold int     `yaml:"missed_heartbeats_threshold"`
	DegradedErrorRate         float64 `yaml:"degraded_error_rate"`
	HighErrorRate             float64 `yaml:"high_error_rate"`
	RecoveryConsecutiveHealthy int    `yaml:"recovery_consecutive_healthy"`
	FactoryOperationalPct     float64 `yaml:"factory_operational_pct"`
	FactoryDegradedPct        float64 `yaml:"factory_degraded_pct"`
	FactoryCriticalPct        float64 `yaml:"factory_critical_pct"`
	AtRiskReadingThreshold    float64 `yaml:"at_risk_reading_threshold"`
	AtRiskConsecutiveCount    int     `yaml:"at_risk_consecutive_count"`
}

// Supervisor configures the periodic tick (§4.7).
type Supervisor struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
}

// Root is the top-level config document.
type Root struct {
	LogLevel    string      `yaml:"log_level"`
	Bus         Bus         `yaml:"bus"`
	PMS         PMS         `yaml:"pms"`
	Persistence Persistence `yaml:"persistence"`
	Thresholds  Thresholds  `yaml:"thresholds"`
	Supervisor  Supervisor  `yaml:"supervisor"`
}

// Load reads path, unmarshals and fills defaults, then layers
// .env/environment overrides on top.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	applyDefaults(&c)

	// A missing .env is not an error; it's an optional local override.
	_ = godotenv.Load()
	applyEnvOverrides(&c)

	return c, nil
}

func applyDefaults(c *Root) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Bus.HeartbeatTopic == "" {
		c.Bus.HeartbeatTopic = "factory.heartbeat"
	}
	if c.Bus.ReadingsTopic == "" {
		c.Bus.ReadingsTopic = "factory.readings"
	}
	if c.Bus.FailureTopic == "" {
		c.Bus.FailureTopic = "factory.sensor-failure"
	}
	if c.Bus.RestartTopic == "" {
		c.Bus.RestartTopic = "factory.restart"
	}
	if c.Bus.AtRiskTopic == "" {
		c.Bus.AtRiskTopic = "factory.sensor-at-risk"
	}
	if c.Bus.ConsumerGroup == "" {
		c.Bus.ConsumerGroup = "fleetguard"
	}
	if c.Bus.ReconnectDelayMs == 0 {
		c.Bus.ReconnectDelayMs = 5000
	}

	if c.PMS.TimeoutSeconds == 0 {
		c.PMS.TimeoutSeconds = 10
	}
	if c.PMS.MaxAttempts == 0 {
		c.PMS.MaxAttempts = 3
	}
	if c.PMS.BackoffBaseMs == 0 {
		c.PMS.BackoffBaseMs = 500
	}
	if c.PMS.CircuitMaxFailures == 0 {
		c.PMS.CircuitMaxFailures = 3
	}
	if c.PMS.CircuitOpenSeconds == 0 {
		c.PMS.CircuitOpenSeconds = 30
	}

	if c.Persistence.RetryQueueDepth == 0 {
		c.Persistence.RetryQueueDepth = 1000
	}
	if c.Persistence.MaxWriteRetries == 0 {
		c.Persistence.MaxWriteRetries = 3
	}

	if c.Thresholds.HeartbeatTimeoutSeconds == 0 {
		c.Thresholds.HeartbeatTimeoutSeconds = 3
	}
	if c.Thresholds.SensorTimeoutSeconds == 0 {
		c.Thresholds.SensorTimeoutSeconds = 5
	}
	if c.Thresholds.MissedHeartbeatsThreshold == 0 {
		c.Thresholds.MissedHeartbeatsThreshold = 3
	}
	if c.Thresholds.DegradedErrorRate == 0 {
		c.Thresholds.DegradedErrorRate = 0.05
	}
	if c.Thresholds.HighErrorRate == 0 {
		c.Thresholds.HighErrorRate = 0.10
	}
	if c.Thresholds.RecoveryConsecutiveHealthy == 0 {
		c.Thresholds.RecoveryConsecutiveHealthy = 5
	}
	if c.Thresholds.FactoryOperationalPct == 0 {
		c.Thresholds.FactoryOperationalPct = 80
	}
	if c.Thresholds.FactoryDegradedPct == 0 {
		c.Thresholds.FactoryDegradedPct = 50
	}
	if c.Thresholds.FactoryCriticalPct == 0 {
		c.Thresholds.FactoryCriticalPct = 20
	}
	if c.Thresholds.AtRiskReadingThreshold == 0 {
		c.Thresholds.AtRiskReadingThreshold = 70
	}
	if c.Thresholds.AtRiskConsecutiveCount == 0 {
		c.Thresholds.AtRiskConsecutiveCount = 3
	}

	if c.Supervisor.TickIntervalSeconds == 0 {
		c.Supervisor.TickIntervalSeconds = 1
	}
}

// applyEnvOverrides lets FLEETGUARD_-prefixed environment variables
// override a subset of Root: bus brokers, PMS endpoint, persistence DSN,
// heartbeat and sensor timeouts, and log level. Other fields are read
// from YAML only.
func applyEnvOverrides(c *Root) {
	if v, ok := lookup("FLEETGUARD_BUS_BROKERS"); ok {
		c.Bus.Brokers = strings.Split(v, ",")
	}
	if v, ok := lookup("FLEETGUARD_PMS_ENDPOINT"); ok {
		c.PMS.Endpoint = v
	}
	if v, ok := lookup("FLEETGUARD_PERSISTENCE_DSN"); ok {
		c.Persistence.DSN = v
	}
	if v, ok := lookupInt("FLEETGUARD_HEARTBEAT_TIMEOUT_SECONDS"); ok {
		c.Thresholds.HeartbeatTimeoutSeconds = v
	}
	if v, ok := lookupInt("FLEETGUARD_SENSOR_TIMEOUT_SECONDS"); ok {
		c.Thresholds.SensorTimeoutSeconds = v
	}
	if v, ok := lookup("FLEETGUARD_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupInt(key string) (int, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// HeartbeatTimeout and SensorTimeout convert the configured seconds to
// time.Duration for callers that want to avoid repeating the conversion.
func (t Thresholds) HeartbeatTimeout() time.Duration {
	return time.Duration(t.HeartbeatTimeoutSeconds) * time.Second
}

func (t Thresholds) SensorTimeout() time.Duration {
	return time.Duration(t.SensorTimeoutSeconds) * time.Second
}
