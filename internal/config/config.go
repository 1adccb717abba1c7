// Package config loads eccs-e2e settings from config.yaml and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/majorcontext/eccs-e2e/internal/eccs"
)

// Defaults used when neither the config file nor the environment says
// otherwise.
const (
	DefaultEndpoint     = "localhost:9000"
	DefaultBinary       = "./eccs"
	DefaultContract     = "v3"
	DefaultServerPort   = 9000
	DefaultReadyTimeout = 60 * time.Second
	DefaultRetention    = 7
)

// Config holds everything a run needs.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Targets  []Target      `yaml:"targets"`
	Server   ServerConfig  `yaml:"server"`
	Debug    DebugConfig   `yaml:"debug"`

	// Admin holds the credentials read from the environment. Password and
	// Token may still be secret references at this point.
	Admin Admin `yaml:"-"`

	// Cert is forwarded as ECCS_CRT to the releases that read it.
	Cert    string `yaml:"-"`
	CertSet bool   `yaml:"-"`
	// CertPath is passed with -c to the releases that take a file.
	CertPath string `yaml:"cert_path"`
}

// Target is one eccs binary and the contract it speaks.
type Target struct {
	Name     string `yaml:"name"`
	Binary   string `yaml:"binary"`
	Contract string `yaml:"contract"`
}

// ServerConfig describes an Encryption Server container to start for the
// run. An empty Image means the server is already running.
type ServerConfig struct {
	Image        string            `yaml:"image"`
	Port         int               `yaml:"port"`
	Env          map[string]string `yaml:"env"`
	ReadyTimeout time.Duration     `yaml:"ready_timeout"`
}

// DebugConfig controls the debug log files.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Admin is the user-management account the scenario creates users with.
type Admin struct {
	UserID   string
	Password string
	Token    string
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Timeout:  eccs.DefaultTimeout,
		Server: ServerConfig{
			Port:         DefaultServerPort,
			ReadyTimeout: DefaultReadyTimeout,
		},
		Debug: DebugConfig{RetentionDays: DefaultRetention},
	}
}

// Dir returns the base directory for config, history, logs and stored
// credentials: $ECCS_E2E_DIR, or ~/.eccs-e2e.
func Dir() string {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".eccs-e2e")
	}
	return filepath.Join(homeDir, ".eccs-e2e")
}

// Path returns the location of config.yaml inside dir.
func Path(dir string) string {
	return filepath.Join(dir, "config.yaml")
}

// Load reads dir/config.yaml if present, applies environment overrides
// and fills in a default target when none is configured.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := Path(dir)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Targets) == 0 {
		cfg.Targets = []Target{defaultTarget()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks targets and durations.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}
	seen := make(map[string]bool)
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.Binary == "" {
			t.Binary = DefaultBinary
		}
		if t.Contract == "" {
			t.Contract = DefaultContract
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("%s-%s", filepath.Base(t.Binary), t.Contract)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true
		if _, err := eccs.Lookup(t.Contract); err != nil {
			return fmt.Errorf("target %s: %w", t.Name, err)
		}
	}
	if c.Server.Image != "" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	return nil
}

// EndpointFor returns the eccs endpoint at address with the configured
// certificate settings.
func (c *Config) EndpointFor(address string) eccs.Endpoint {
	return eccs.Endpoint{
		Address:  address,
		Cert:     c.Cert,
		CertSet:  c.CertSet,
		CertPath: c.CertPath,
	}
}
