// Package config implements the bridge's configuration loading: a
// YAML-preferred, JSON-fallback file format with an atomic-value cache and
// fsnotify hot-reload, grounded on the teacher's internal/config.Manager.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"
	DefaultAlias          = "claude-bridge"
	DefaultUpstreamPath   = "https://api.example-upstream.test/v1/responses"
)

// InstructionsConfig mirrors bridge.InstructionsConfig in file-friendly
// form (tagged for YAML/JSON), converted at the call site so that
// internal/config has no dependency on internal/bridge.
type InstructionsConfig struct {
	Mode      string `json:"mode,omitempty" yaml:"mode,omitempty"`
	ApplyWhen string `json:"applyWhen,omitempty" yaml:"apply_when,omitempty"`
	Text      string `json:"text,omitempty" yaml:"text,omitempty"`
}

// StripFieldsConfig mirrors bridge.StripFieldsConfig.
type StripFieldsConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Fields  []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// AdapterConfig is the on-disk adapter configuration (spec §3).
type AdapterConfig struct {
	Enabled      bool                `json:"enabled" yaml:"enabled"`
	Instructions InstructionsConfig  `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	StripFields  StripFieldsConfig   `json:"stripFields,omitempty" yaml:"strip_fields,omitempty"`
}

// UpstreamConfig describes the single Responses-dialect upstream the bridge
// proxies to.
type UpstreamConfig struct {
	BaseURL      string        `json:"baseUrl" yaml:"base_url"`
	TokenEnv     string        `json:"tokenEnv,omitempty" yaml:"token_env,omitempty"`
	Timeout      time.Duration `json:"-" yaml:"-"`
	TimeoutSecs  int           `json:"timeoutSeconds,omitempty" yaml:"timeout_seconds,omitempty"`
	OAuthAccount bool          `json:"oauthAccount,omitempty" yaml:"oauth_account,omitempty"`
}

// AccountConfig is one scheduler-managed upstream credential.
type AccountConfig struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	TokenEnv string `json:"tokenEnv" yaml:"token_env"`
	Proxy    string `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

// Config is the bridge's full configuration.
type Config struct {
	Host     string          `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int             `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey   string          `json:"apiKey,omitempty" yaml:"api_key,omitempty"`
	Alias    string          `json:"alias,omitempty" yaml:"alias,omitempty"`
	Upstream UpstreamConfig  `json:"upstream" yaml:"upstream"`
	Adapter  AdapterConfig   `json:"adapter" yaml:"adapter"`
	Accounts []AccountConfig `json:"accounts,omitempty" yaml:"accounts,omitempty"`
}

// Manager loads, caches, and hot-reloads Config.
type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
	watcher     *fsnotify.Watcher
}

// NewManager builds a Manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

// minimalConfig is used by Load when no config file exists but
// BRIDGE_UPSTREAM_TOKEN is set, and by Get when loading fails, mirroring the
// teacher's CCO_API_KEY minimal-config fallback.
func (m *Manager) minimalConfig() Config {
	return Config{
		Host:  DefaultHost,
		Port:  DefaultPort,
		Alias: DefaultAlias,
		Upstream: UpstreamConfig{
			BaseURL:  DefaultUpstreamPath,
			TokenEnv: "BRIDGE_UPSTREAM_TOKEN",
			Timeout:  600 * time.Second,
		},
		Adapter: AdapterConfig{
			Enabled: true,
			Instructions: InstructionsConfig{
				Mode:      "overwrite",
				ApplyWhen: "non_codex",
			},
			StripFields: StripFieldsConfig{Enabled: true},
		},
	}
}

// Load reads YAML (preferred) or JSON from disk, applies defaults, and
// caches the result.
func (m *Manager) Load() (*Config, error) {
	var (
		cfg Config
		err error
	)

	upstreamToken := os.Getenv("BRIDGE_UPSTREAM_TOKEN")

	switch {
	case fileExists(m.yamlPath):
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}

	case fileExists(m.jsonPath):
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}

	case upstreamToken != "":
		cfg = m.minimalConfig()

	default:
		return nil, fmt.Errorf("no configuration file found (looked for %s or %s) and BRIDGE_UPSTREAM_TOKEN not set", m.yamlPath, m.jsonPath)
	}

	applyDefaults(&cfg)

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (m *Manager) loadYAML() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}

	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if cfg.Alias == "" {
		cfg.Alias = DefaultAlias
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamPath
	}

	if cfg.Upstream.TimeoutSecs > 0 {
		cfg.Upstream.Timeout = time.Duration(cfg.Upstream.TimeoutSecs) * time.Second
	} else if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 600 * time.Second
	}

	if len(cfg.Accounts) == 0 && cfg.Upstream.TokenEnv != "" {
		accountType := "api_key"
		if cfg.Upstream.OAuthAccount {
			accountType = "oauth"
		}

		cfg.Accounts = []AccountConfig{{ID: "default", Type: accountType, TokenEnv: cfg.Upstream.TokenEnv}}
	}
}

// Get returns the cached config, loading it first if necessary. On load
// failure it returns a default-only config rather than erroring, mirroring
// the teacher's Get().
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		fallback := m.minimalConfig()
		return &fallback
	}

	return cfg
}

// Save writes cfg as YAML (the preferred format for new saves).
func (m *Manager) Save(cfg *Config) error {
	return m.SaveAsYAML(cfg)
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}

	if err := os.WriteFile(m.yamlPath, data, 0o600); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) SaveAsJSON(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}

	if err := os.WriteFile(m.jsonPath, data, 0o600); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	if fileExists(m.yamlPath) {
		return m.yamlPath
	}

	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string { return m.yamlPath }
func (m *Manager) GetJSONPath() string { return m.jsonPath }

func (m *Manager) Exists() bool {
	return fileExists(m.yamlPath) || fileExists(m.jsonPath)
}

func (m *Manager) HasYAML() bool { return fileExists(m.yamlPath) }
func (m *Manager) HasJSON() bool { return fileExists(m.jsonPath) }

// Watch hot-reloads the config file on write, calling onReload with the
// freshly loaded config. It is the bridge's home for the teacher's
// main.go-prototype watchConfigFile, moved into the Manager itself so the
// CLI doesn't need direct fsnotify plumbing. The returned stop function
// closes the underlying watcher.
func (m *Manager) Watch(onReload func(*Config, error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	m.watcher = watcher

	for _, path := range []string{m.yamlPath, m.jsonPath} {
		if fileExists(path) {
			if err := watcher.Add(path); err != nil {
				_ = watcher.Close()
				return nil, fmt.Errorf("watch %s: %w", path, err)
			}
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				cfg, loadErr := m.Load()
				onReload(cfg, loadErr)

			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}

				onReload(nil, werr)
			}
		}
	}()

	return watcher.Close, nil
}

// CreateExampleYAML writes a starter configuration file.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:   DefaultHost,
		Port:   DefaultPort,
		Alias:  DefaultAlias,
		APIKey: "your-bridge-api-key-here",
		Upstream: UpstreamConfig{
			BaseURL:  DefaultUpstreamPath,
			TokenEnv: "BRIDGE_UPSTREAM_TOKEN",
		},
		Adapter: AdapterConfig{
			Enabled: true,
			Instructions: InstructionsConfig{
				Mode:      "overwrite",
				ApplyWhen: "non_codex",
				Text:      "You are a helpful coding assistant.",
			},
			StripFields: StripFieldsConfig{Enabled: true},
		},
		Accounts: []AccountConfig{
			{ID: "default", Type: "api_key", TokenEnv: "BRIDGE_UPSTREAM_TOKEN"},
		},
	}

	applyDefaults(cfg)

	return m.SaveAsYAML(cfg)
}
