// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Public base URL of this gateway (used in the served host-info document).
	BaseURL string

	// Token authentication
	Audience         string
	AuthDisabled     bool // bypasses the whole gate; dev/test only
	QSHCheckDisabled bool
	TokenClockSkew   time.Duration // expiry leeway, zero unless configured
	SigningAlgorithm string        // alg used when this service mints tokens
	ContextSecret    string        // process secret for the context token cipher
	ContextMaxAge    time.Duration
	ContextRefreshOK bool // whether minted context tokens may be refreshed
	SignatureWindow  time.Duration // ± window for legacy signed requests
	HostInfoTimeout  time.Duration
	HostInfoKeyPath  string // JMESPath to the public key in the host-info doc
	InstallWhitelist []string
	ServicePublicKey string // PEM served on our own host-info endpoint

	AdminToken string // static bearer for operator endpoints; empty disables

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

// fileOverlay carries the settings that are unwieldy as env vars.
// Loaded from TRUSTGATE_CONFIG_FILE when set.
type fileOverlay struct {
	BaseURL          string   `yaml:"baseUrl"`
	Audience         string   `yaml:"audience"`
	InstallWhitelist []string `yaml:"installWhitelist"`
	ServicePublicKey string   `yaml:"servicePublicKey"`
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:              env("TRUSTGATE_ENV", "dev"),
		HTTPAddr:         env("TRUSTGATE_HTTP_ADDR", ":8080"),
		BaseURL:          env("BASE_PUBLIC_URL", "http://localhost:8080"),
		Audience:         env("TOKEN_AUDIENCE", ""),
		AuthDisabled:     envBool("AUTH_DISABLED", false),
		QSHCheckDisabled: envBool("QSH_CHECK_DISABLED", false),
		TokenClockSkew:   envDur("TOKEN_CLOCK_SKEW_SEC", 0) * time.Second,
		SigningAlgorithm: env("TOKEN_SIGNING_ALG", "HS256"),
		ContextSecret:    env("CONTEXT_TOKEN_SECRET", ""),
		ContextMaxAge:    envDur("CONTEXT_TOKEN_MAX_AGE_SEC", 900) * time.Second,
		ContextRefreshOK: envBool("CONTEXT_TOKEN_REFRESH_ALLOWED", false),
		SignatureWindow:  envDur("SIGNATURE_WINDOW_SEC", 600) * time.Second,
		HostInfoTimeout:  envDur("HOSTINFO_TIMEOUT_SEC", 10) * time.Second,
		HostInfoKeyPath:  env("HOSTINFO_KEY_PATH", "publicKey"),
		InstallWhitelist: envList("INSTALL_WHITELIST"),
		ServicePublicKey: env("SERVICE_PUBLIC_KEY", ""),
		AdminToken:       env("ADMIN_TOKEN", ""),
		RedisURL:         env("REDIS_URL", ""),
		DatabaseURL:      env("DATABASE_URL", ""),
	}
	if path := os.Getenv("TRUSTGATE_CONFIG_FILE"); path != "" {
		applyFile(&cfg, path)
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory tenant store for dev")
	}
	if cfg.AuthDisabled {
		log.Println("[WARN] AUTH_DISABLED=true — every request is treated as authenticated")
	}
	return cfg
}

func applyFile(cfg *Config, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[WARN] config file %s: %v", path, err)
		return
	}
	var o fileOverlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		log.Printf("[WARN] config file %s: %v", path, err)
		return
	}
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.Audience != "" {
		cfg.Audience = o.Audience
	}
	if len(o.InstallWhitelist) > 0 {
		cfg.InstallWhitelist = o.InstallWhitelist
	}
	if o.ServicePublicKey != "" {
		cfg.ServicePublicKey = o.ServicePublicKey
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
func envList(k string) []string {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
