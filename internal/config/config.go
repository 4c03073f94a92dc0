package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Identity
	SecretKey         string // hex secret key; empty => read-only, every mutation is rejected
	Owner             string // hex public key to read when no secret key is set
	DisableEncryption bool   // true => no private items, published content stays ""

	// Relays
	RelaysFile   string        // path to relays.yaml (optional)
	Relays       string        // comma separated relay URLs, used when RelaysFile is empty
	ReadTimeout  time.Duration // relay query timeout (default: 5s)
	WriteTimeout time.Duration // relay publish timeout (default: 15s)

	// Sync
	RetryDelay           time.Duration // pause between retried sets in a pass (default: 500ms)
	ViewTTL              time.Duration // lifetime of optimistic and cached views (default: 5m)
	ConnectivityInterval time.Duration // interval between relay probes (default: 30s)
	SweepInterval        time.Duration // interval of the stale pending sweep (default: 5m)
	StaleAfter           time.Duration // age of an unsettled pending record handed to retry (default: 10m)

	// Redis
	RedisEnabled          bool          // false => records are kept in memory only
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 5.6.7.8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
	RateLimit    int      // mutations per minute and client IP (0 = unlimited)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("MARKSYNC_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("MARKSYNC_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("MARKSYNC_LOG_LEVEL", "info"),
		PrettyLog: mustBool("MARKSYNC_PRETTY_LOG", true),

		// Identity
		SecretKey:         getenv("MARKSYNC_SECRET_KEY", ""),
		Owner:             getenv("MARKSYNC_OWNER", ""),
		DisableEncryption: mustBool("MARKSYNC_DISABLE_ENCRYPTION", false),

		// Relays
		RelaysFile:   getenv("MARKSYNC_RELAYS_FILE", ""),
		Relays:       getenv("MARKSYNC_RELAYS", ""),
		ReadTimeout:  mustDuration("MARKSYNC_READ_TIMEOUT", 5*time.Second),
		WriteTimeout: mustDuration("MARKSYNC_WRITE_TIMEOUT", 15*time.Second),

		// Sync
		RetryDelay:           mustDuration("MARKSYNC_RETRY_DELAY", 500*time.Millisecond),
		ViewTTL:              mustDuration("MARKSYNC_VIEW_TTL", 5*time.Minute),
		ConnectivityInterval: mustDuration("MARKSYNC_CONNECTIVITY_INTERVAL", 30*time.Second),
		SweepInterval:        mustDuration("MARKSYNC_SWEEP_INTERVAL", 5*time.Minute),
		StaleAfter:           mustDuration("MARKSYNC_STALE_AFTER", 10*time.Minute),

		// Redis settings
		RedisEnabled:          mustBool("MARKSYNC_REDIS_ENABLED", true),
		RedisUser:             getenv("MARKSYNC_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("MARKSYNC_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("MARKSYNC_REDIS_PASSWORD", ""),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("MARKSYNC_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("MARKSYNC_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("MARKSYNC_TRUST_PROXY", true),
		RateLimit:    getenvInt("MARKSYNC_RATE_LIMIT", 60),
	}

	if cfg.RelaysFile == "" && cfg.Relays == "" {
		panic("❌ FATAL: one of MARKSYNC_RELAYS_FILE or MARKSYNC_RELAYS must be set")
	}

	if cfg.SecretKey == "" && cfg.Owner == "" {
		panic("❌ FATAL: one of MARKSYNC_SECRET_KEY or MARKSYNC_OWNER must be set")
	}

	// Redis is only required when enabled
	if cfg.RedisEnabled {
		cfg.RedisAddr = requireEnv("MARKSYNC_REDIS_ADDR")
		cfg.RedisDB = requireEnvInt("MARKSYNC_REDIS_DB")

		// Validate Redis password configuration
		if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
			panic("❌ FATAL: MARKSYNC_REDIS_PASSWORD is required when MARKSYNC_REDIS_PASSWORD_REQUIRED=true")
		}
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cfgCopy := *c
	if cfgCopy.RedisPassword != "" {
		cfgCopy.RedisPassword = "***REDACTED***"
	}
	if cfgCopy.RedisUser != "" {
		cfgCopy.RedisUser = "***REDACTED***"
	}
	if cfgCopy.SecretKey != "" {
		cfgCopy.SecretKey = "***REDACTED***"
	}
	return cfgCopy
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func requireEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
