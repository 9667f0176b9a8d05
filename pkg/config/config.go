// Package config loads the zk-id verifier's runtime configuration, following
// certenIO-certen-validator/pkg/config/config.go's env-var-with-defaults shape
// (getEnv/getEnvInt/getEnvBool helpers feeding a single flat Config struct). Unlike the
// teacher, nothing here is a hard requirement for startup -- spec §6 says "no environment
// variables are part of the core contract" -- so Load never fails; every field has a safe
// default and callers that need stricter guarantees call Validate themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zkidlabs/verifier/pkg/verifier"
)

// Config is the flat set of options named in spec §6's options table, plus the ambient
// server/database/logging settings every deployment needs regardless of what spec.md's
// Non-goals exclude from the verification core itself.
type Config struct {
	// Gate 1: rate limiting (spec §6 "rate_limit {limit, window_ms}").
	RateLimitEnabled bool
	RateLimitLimit   int
	RateLimitWindow  time.Duration

	// Gate 2: protocol version policy.
	ProtocolVersionPolicy verifier.ProtocolVersionPolicy
	ServerProtocolVersion string

	// Gate 3.
	RequireSignedCredentials bool

	// Gate 4.
	RequiredMinAge      *int64
	RequiredNationality *int64

	// Gate 5.
	MaxRequestAgeMs int64

	// Gates 6/9 TTLs.
	ChallengeTTL time.Duration
	NonceTTL     time.Duration

	// Revocation tree.
	RevocationTreeDepth int
	RevocationBackend   string // "memory" or "postgres"
	DatabaseURL         string

	// Directory holding one Groth16 verifying key file per proof variant
	// (age.vk, nationality.vk, age-revocable.vk, age-signed.vk, nationality-signed.vk).
	VerifyingKeysDir string

	// Server / ambient.
	ListenAddr  string
	MetricsAddr string
	LogLevel    string
}

// VerifierConfig projects the gate-relevant fields into a verifier.Config.
func (c Config) VerifierConfig() verifier.Config {
	return verifier.Config{
		RequireSignedCredentials: c.RequireSignedCredentials,
		MaxRequestAgeMs:          c.MaxRequestAgeMs,
		RequiredPolicy: verifier.RequiredPolicy{
			MinAge:      c.RequiredMinAge,
			Nationality: c.RequiredNationality,
		},
		ProtocolVersionPolicy: c.ProtocolVersionPolicy,
		ServerProtocolVersion: c.ServerProtocolVersion,
	}
}

// Load reads configuration from the process environment, falling back to the spec's
// documented defaults (challenge/nonce TTL 5 minutes, revocation tree depth 20, protocol
// version policy "warn") for anything unset.
func Load() *Config {
	cfg := &Config{
		RateLimitEnabled:         getEnvBool("RATE_LIMIT_ENABLED", false),
		RateLimitLimit:           getEnvInt("RATE_LIMIT_LIMIT", 60),
		RateLimitWindow:          getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		ProtocolVersionPolicy:    verifier.ProtocolVersionPolicy(getEnv("PROTOCOL_VERSION_POLICY", string(verifier.ProtocolVersionWarn))),
		ServerProtocolVersion:    getEnv("SERVER_PROTOCOL_VERSION", "zk-id/1.0"),
		RequireSignedCredentials: getEnvBool("REQUIRE_SIGNED_CREDENTIALS", true),
		MaxRequestAgeMs:          getEnvInt64("MAX_REQUEST_AGE_MS", 60_000),
		ChallengeTTL:             getEnvDuration("CHALLENGE_TTL", 5*time.Minute),
		NonceTTL:                 getEnvDuration("NONCE_TTL", 5*time.Minute),
		RevocationTreeDepth:      getEnvInt("REVOCATION_TREE_DEPTH", 20),
		RevocationBackend:        getEnv("REVOCATION_BACKEND", "memory"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		VerifyingKeysDir:         getEnv("VERIFYING_KEYS_DIR", ""),
		ListenAddr:               getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr:              getEnv("METRICS_ADDR", ":9090"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
	}
	if v := getEnvInt64("REQUIRED_MIN_AGE", -1); v >= 0 {
		cfg.RequiredMinAge = &v
	}
	if v := getEnvInt64("REQUIRED_NATIONALITY", -1); v >= 0 {
		cfg.RequiredNationality = &v
	}
	return cfg
}

// Validate reports configuration combinations that would make the verifier unsafe or
// non-functional, mirroring the teacher's own Validate()/ValidateForDevelopment() split
// (pkg/config/config.go) without requiring blockchain-specific fields that don't apply here.
func (c *Config) Validate() error {
	var errs []string
	if c.RevocationBackend != "memory" && c.RevocationBackend != "postgres" {
		errs = append(errs, fmt.Sprintf("REVOCATION_BACKEND must be \"memory\" or \"postgres\", got %q", c.RevocationBackend))
	}
	if c.RevocationBackend == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required when REVOCATION_BACKEND=postgres")
	}
	if c.RevocationTreeDepth < 1 || c.RevocationTreeDepth > 254 {
		errs = append(errs, fmt.Sprintf("REVOCATION_TREE_DEPTH must be in [1,254], got %d", c.RevocationTreeDepth))
	}
	switch c.ProtocolVersionPolicy {
	case verifier.ProtocolVersionOff, verifier.ProtocolVersionWarn, verifier.ProtocolVersionStrict:
	default:
		errs = append(errs, fmt.Sprintf("PROTOCOL_VERSION_POLICY must be one of off/warn/strict, got %q", c.ProtocolVersionPolicy))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
