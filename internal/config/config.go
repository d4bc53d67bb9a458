// Package config loads the engine configuration from forgebench.yaml in the
// data directory and the process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"forgebench/engine/internal/envutil"
	"forgebench/engine/internal/generation"
	"forgebench/engine/internal/preview"
)

const schemaVersion = 1

const (
	EnvAPIKey        = "FORGEBENCH_API_KEY"
	EnvOpenRouterKey = "OPENROUTER_API_KEY"
	EnvBaseURL       = "OPENROUTER_BASE_URL"
	EnvModel         = "FORGEBENCH_MODEL"
	EnvFakeLLM       = "FORGEBENCH_FAKE_LLM"
	EnvFakeSandbox   = "FORGEBENCH_FAKE_SANDBOX"
	EnvSandboxRoot   = "FORGEBENCH_SANDBOX_ROOT"
	EnvReadyTimeout  = "FORGEBENCH_READY_TIMEOUT"
	EnvDebug         = "FORGEBENCH_DEBUG"
)

type SandboxConfig struct {
	// Root is the sandbox work directory. Empty means a temporary directory
	// removed at shutdown.
	Root string `yaml:"root,omitempty" json:"root,omitempty"`
	Fake bool   `yaml:"fake,omitempty" json:"fake,omitempty"`
}

type Config struct {
	SchemaVersion int               `yaml:"schema_version" json:"schema_version"`
	Generation    generation.Config `yaml:"generation" json:"generation"`
	Preview       preview.Config    `yaml:"preview" json:"preview"`
	Sandbox       SandboxConfig     `yaml:"sandbox" json:"sandbox"`
	FakeLLM       bool              `yaml:"fake_llm,omitempty" json:"fake_llm,omitempty"`
}

func Default() *Config {
	return &Config{
		SchemaVersion: schemaVersion,
		Generation:    generation.DefaultConfig(),
		Preview:       preview.DefaultConfig(),
	}
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the file, backfilling every missing field with its default. A
// missing file yields the defaults.
func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(s.path), err)
	}
	backfill(&cfg)
	return &cfg, nil
}

func (s *Store) Save(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfill(cfg)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *Store) Update(fn func(*Config)) (*Config, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	fn(cfg)
	return cfg, s.Save(cfg)
}

// ApplyEnv overlays environment settings. The API key is only ever taken
// from the environment and is never written back to disk.
func ApplyEnv(cfg *Config) {
	cfg.Generation.APIKey = envutil.First(EnvAPIKey, EnvOpenRouterKey)
	if baseURL := envutil.First(EnvBaseURL); baseURL != "" {
		cfg.Generation.BaseURL = baseURL
	}
	if model := envutil.First(EnvModel); model != "" {
		cfg.Generation.Model = model
	}
	if root := envutil.First(EnvSandboxRoot); root != "" {
		cfg.Sandbox.Root = root
	}
	if d, ok := envutil.Duration(EnvReadyTimeout); ok {
		cfg.Preview.ReadyTimeout = d
	}
	if envutil.Bool(EnvFakeLLM) {
		cfg.FakeLLM = true
	}
	if envutil.Bool(EnvFakeSandbox) {
		cfg.Sandbox.Fake = true
	}
}

func backfill(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = schemaVersion
	}
	backfillGeneration(&cfg.Generation)
	backfillPreview(&cfg.Preview)
	cfg.Sandbox.Root = strings.TrimSpace(cfg.Sandbox.Root)
}

func backfillGeneration(g *generation.Config) {
	def := generation.DefaultConfig()
	g.BaseURL = strings.TrimSpace(g.BaseURL)
	if g.BaseURL == "" {
		g.BaseURL = def.BaseURL
	}
	g.Model = strings.TrimSpace(g.Model)
	if g.Model == "" {
		g.Model = def.Model
	}
	if g.TemplateMaxTokens <= 0 {
		g.TemplateMaxTokens = def.TemplateMaxTokens
	}
	if g.ChatMaxTokens <= 0 {
		g.ChatMaxTokens = def.ChatMaxTokens
	}
	if g.EnhanceMaxTokens <= 0 {
		g.EnhanceMaxTokens = def.EnhanceMaxTokens
	}
	if g.Timeout <= 0 {
		g.Timeout = def.Timeout
	}
}

func backfillPreview(p *preview.Config) {
	def := preview.DefaultConfig()
	if len(p.InstallCommand) == 0 {
		p.InstallCommand = def.InstallCommand
	}
	if len(p.DevCommand) == 0 {
		p.DevCommand = def.DevCommand
	}
	if p.ReadyTimeout <= 0 {
		p.ReadyTimeout = def.ReadyTimeout
	}
	if p.KillGrace <= 0 {
		p.KillGrace = def.KillGrace
	}
	if p.MountWaitRetries <= 0 {
		p.MountWaitRetries = def.MountWaitRetries
	}
	if p.MountWaitInterval <= 0 {
		p.MountWaitInterval = def.MountWaitInterval
	}
}
