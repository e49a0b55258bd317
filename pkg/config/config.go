// Package config loads oracle configuration from the environment, optionally
// overlaid on a YAML profile. Precedence: defaults < profile file < env.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// Provider names for the adapter factory.
const (
	ProviderLocal = "local"
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
)

// Calibration store drivers.
const (
	CalibrationDriverSQLite   = "sqlite"
	CalibrationDriverPostgres = "postgres"
)

// Config holds the full oracle configuration. It is loaded once at startup
// and passed by value after that; nothing mutates it at runtime.
//
//nolint:govet // fieldalignment: grouped by concern
type Config struct {
	// Adapter selection.
	Provider string `yaml:"provider"`
	DataDir  string `yaml:"dataDir"`

	// Backend names, required for non-local providers.
	FPTableName           string `yaml:"fpTableName"`
	ConsentTableName      string `yaml:"consentTableName"`
	BlockCounterTableName string `yaml:"blockCounterTableName"`
	NonceParameterName    string `yaml:"nonceParameterName"`
	BaselineBucket        string `yaml:"baselineBucket"`

	// Circuit breaker.
	BlockThreshold int `yaml:"blockThreshold"`
	BlockWindowSec int `yaml:"blockWindowSec"`

	// Calibration and privacy.
	FPBatchWindowMs   int    `yaml:"fpBatchWindowMs"`
	KAnonymity        int    `yaml:"kAnonymity"`
	CalibrationDriver string `yaml:"calibrationDriver"`
	CalibrationDSN    string `yaml:"calibrationDsn"`

	// L0 bounds.
	NonceMaxAgeMs  int     `yaml:"nonceMaxAgeMs"`
	DriftThreshold float64 `yaml:"driftThreshold"`

	// Evaluator.
	RuleTimeoutMs int `yaml:"ruleTimeoutMs"`
	Workers       int `yaml:"workers"`

	// Envelope identity.
	Tier        contracts.Tier        `yaml:"tier"`
	Environment contracts.Environment `yaml:"environment"`

	// Optional surfaces.
	SigningKey string `yaml:"signingKey"`
	RedisAddr  string `yaml:"redisAddr"`

	// Observability.
	LogLevel     string `yaml:"logLevel"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPEnabled  bool   `yaml:"otlpEnabled"`
}

// Default returns the configuration with every key at its documented default.
func Default() *Config {
	return &Config{
		Provider:          ProviderLocal,
		DataDir:           ".dissonance",
		BlockThreshold:    100,
		BlockWindowSec:    3600,
		FPBatchWindowMs:   3_600_000,
		KAnonymity:        10,
		CalibrationDriver: CalibrationDriverSQLite,
		NonceMaxAgeMs:     3_600_000,
		DriftThreshold:    0.3,
		RuleTimeoutMs:     30_000,
		Workers:           runtime.NumCPU(),
		Tier:              contracts.TierStandard,
		Environment:       contracts.EnvLocal,
		LogLevel:          "INFO",
	}
}

// Load reads configuration from environment variables over defaults.
func Load() *Config {
	c := Default()
	c.applyEnv()
	return c
}

func (c *Config) applyEnv() {
	c.Provider = envStr("DISSONANCE_PROVIDER", c.Provider)
	c.DataDir = envStr("DISSONANCE_DATA_DIR", c.DataDir)
	c.FPTableName = envStr("DISSONANCE_FP_TABLE", c.FPTableName)
	c.ConsentTableName = envStr("DISSONANCE_CONSENT_TABLE", c.ConsentTableName)
	c.BlockCounterTableName = envStr("DISSONANCE_BLOCK_COUNTER_TABLE", c.BlockCounterTableName)
	c.NonceParameterName = envStr("DISSONANCE_NONCE_PARAMETER", c.NonceParameterName)
	c.BaselineBucket = envStr("DISSONANCE_BASELINE_BUCKET", c.BaselineBucket)
	c.BlockThreshold = envInt("DISSONANCE_BLOCK_THRESHOLD", c.BlockThreshold)
	c.BlockWindowSec = envInt("DISSONANCE_BLOCK_WINDOW_SEC", c.BlockWindowSec)
	c.FPBatchWindowMs = envInt("DISSONANCE_FP_BATCH_WINDOW_MS", c.FPBatchWindowMs)
	c.KAnonymity = envInt("DISSONANCE_K_ANONYMITY", c.KAnonymity)
	c.CalibrationDriver = envStr("DISSONANCE_CALIBRATION_DRIVER", c.CalibrationDriver)
	c.CalibrationDSN = envStr("DISSONANCE_CALIBRATION_DSN", c.CalibrationDSN)
	c.NonceMaxAgeMs = envInt("DISSONANCE_NONCE_MAX_AGE_MS", c.NonceMaxAgeMs)
	c.DriftThreshold = envFloat("DISSONANCE_DRIFT_THRESHOLD", c.DriftThreshold)
	c.RuleTimeoutMs = envInt("DISSONANCE_RULE_TIMEOUT_MS", c.RuleTimeoutMs)
	c.Workers = envInt("DISSONANCE_WORKERS", c.Workers)
	c.Tier = contracts.Tier(envStr("DISSONANCE_TIER", string(c.Tier)))
	c.Environment = contracts.Environment(envStr("DISSONANCE_ENV", string(c.Environment)))
	c.SigningKey = envStr("DISSONANCE_SIGNING_KEY", c.SigningKey)
	c.RedisAddr = envStr("DISSONANCE_REDIS_ADDR", c.RedisAddr)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.OTLPEnabled = envBool("DISSONANCE_OTLP_ENABLED", c.OTLPEnabled)
}

// Validate rejects out-of-range values with INVALID_INPUT.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLocal, ProviderAWS, ProviderGCP:
	default:
		return contracts.NewCodedError(contracts.CodeInvalidInput, "unknown provider %q", c.Provider)
	}
	switch c.CalibrationDriver {
	case CalibrationDriverSQLite, CalibrationDriverPostgres:
	default:
		return contracts.NewCodedError(contracts.CodeInvalidInput, "unknown calibration driver %q", c.CalibrationDriver)
	}
	if c.BlockThreshold < 1 {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "blockThreshold must be >= 1, got %d", c.BlockThreshold)
	}
	if c.BlockWindowSec < 1 {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "blockWindowSec must be >= 1, got %d", c.BlockWindowSec)
	}
	if c.FPBatchWindowMs < 0 {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "fpBatchWindowMs must be >= 0, got %d", c.FPBatchWindowMs)
	}
	if c.KAnonymity < 2 {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "kAnonymity must be >= 2, got %d", c.KAnonymity)
	}
	if c.NonceMaxAgeMs < 1 {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "nonceMaxAgeMs must be >= 1, got %d", c.NonceMaxAgeMs)
	}
	if c.DriftThreshold < 0 {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "driftThreshold must be >= 0, got %g", c.DriftThreshold)
	}
	if c.RuleTimeoutMs < 1 {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "ruleTimeoutMs must be >= 1, got %d", c.RuleTimeoutMs)
	}
	if c.Workers < 1 {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "workers must be >= 1, got %d", c.Workers)
	}
	if c.Tier != "" && !c.Tier.Valid() {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "unknown tier %q", c.Tier)
	}
	if c.Environment != "" && !c.Environment.Valid() {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "unknown environment %q", c.Environment)
	}
	return nil
}

// Duration accessors; the wire keys stay integral for config portability.

func (c *Config) BlockWindow() time.Duration { return time.Duration(c.BlockWindowSec) * time.Second }
func (c *Config) FPBatchWindow() time.Duration {
	return time.Duration(c.FPBatchWindowMs) * time.Millisecond
}
func (c *Config) NonceMaxAge() time.Duration {
	return time.Duration(c.NonceMaxAgeMs) * time.Millisecond
}

func (c *Config) RuleTimeout() time.Duration {
	return time.Duration(c.RuleTimeoutMs) * time.Millisecond
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
