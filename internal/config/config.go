// Package config loads the gateway's process-level settings: listen
// addresses, the metadata store DSN, cache TTLs, admission-control
// defaults, and the script sandbox's extra-modules allowlist. Endpoint/
// datasource/client configuration itself lives in the metadata store and is
// reloaded through internal/cache, not this file — this mirrors the
// teacher's split between its static config.Config and its mutable
// router.Router routing table.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway process configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Auth        AuthConfig        `yaml:"auth"`
	Admission   AdmissionConfig   `yaml:"admission"`
	Script      ScriptConfig      `yaml:"script"`
	AccessLog   AccessLogConfig   `yaml:"access_log"`
}

type ListenConfig struct {
	APIPort int    `yaml:"api_port"`
	APIBind string `yaml:"api_bind"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

// StoreConfig points at the metadata database and the shared KV backend.
type StoreConfig struct {
	MetadataDSN string `yaml:"metadata_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
}

// CacheConfig tunes the two-tier config cache (§4.E).
type CacheConfig struct {
	L1TTL      time.Duration `yaml:"l1_ttl"`
	L1MaxSize  int           `yaml:"l1_max_size"`
	L2TTL      time.Duration `yaml:"l2_ttl"`
}

// AuthConfig holds the JWT signing secret and token lifetime.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	FieldCipherSecret string  `yaml:"field_cipher_secret"`
}

// AdmissionConfig holds defaults for the admission-control chain (§4.G),
// overridden per-client/per-endpoint from the metadata store where set.
type AdmissionConfig struct {
	DefaultRateLimitPerMin int           `yaml:"default_rate_limit_per_min"`
	DefaultMaxConcurrency  int           `yaml:"default_max_concurrency"`
	ConcurrencySlotTTL     time.Duration `yaml:"concurrency_slot_ttl"`
	RateLimitWindow        time.Duration `yaml:"rate_limit_window"`
}

// ScriptConfig controls the otto sandbox (§4.C).
type ScriptConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	ExtraModules       []string      `yaml:"extra_modules"`
	HTTPAllowedHosts   []string      `yaml:"http_allowed_hosts"`
}

// AccessLogConfig is the process-level fallback; the authoritative,
// hot-reloadable AccessLogConfig lives in the metadata store (store.AccessLogConfig).
type AccessLogConfig struct {
	TruncateBodyBytes int `yaml:"truncate_body_bytes"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with ${VAR} env substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8080
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "0.0.0.0"
	}
	if cfg.Cache.L1TTL == 0 {
		cfg.Cache.L1TTL = 10 * time.Second
	}
	if cfg.Cache.L1MaxSize == 0 {
		cfg.Cache.L1MaxSize = 2048
	}
	if cfg.Cache.L2TTL == 0 {
		cfg.Cache.L2TTL = 5 * time.Minute
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.Admission.DefaultRateLimitPerMin == 0 {
		cfg.Admission.DefaultRateLimitPerMin = 600
	}
	if cfg.Admission.DefaultMaxConcurrency == 0 {
		cfg.Admission.DefaultMaxConcurrency = 10
	}
	if cfg.Admission.ConcurrencySlotTTL == 0 {
		cfg.Admission.ConcurrencySlotTTL = 300 * time.Second
	}
	if cfg.Admission.RateLimitWindow == 0 {
		cfg.Admission.RateLimitWindow = 60 * time.Second
	}
	if cfg.Script.Timeout == 0 {
		cfg.Script.Timeout = 5 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Store.MetadataDSN == "" {
		return fmt.Errorf("store.metadata_dsn is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if cfg.Auth.FieldCipherSecret == "" {
		return fmt.Errorf("auth.field_cipher_secret is required")
	}
	return nil
}

// Watcher watches the config file for changes and calls back with the
// reloaded config, debounced the same way the teacher's config.Watcher does.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{path: path, callback: callback, watcher: w, stopCh: make(chan struct{})}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}
	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
