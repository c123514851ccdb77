package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"

	"github.com/ekisa-team/audiogen/internal/envvar"
	"github.com/ekisa-team/audiogen/internal/xfs"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

// Load reads path (or the default config file when path is empty), validates it, fills
// defaults and applies environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile()
	}
	path = xfs.ExpandTilde(path)

	cfg, err := LoadAndValidate(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = Default()
	default:
		return nil, err
	}

	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	cfg.resolveDevices()

	return cfg, nil
}

// LoadAndValidate loads and validates the configuration file at path.
func LoadAndValidate(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse validates YAML data against the embedded schema and decodes it over Default.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: invalid YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}
	cfg.fillModelDefaults()

	return cfg, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
}

// ApplyEnv overrides file settings with AUDIOGEN_* variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(envvar.AudiogenServerHost); v != "" {
		cfg.Server.Host = v
	}
	if v := getenv(envvar.AudiogenServerHTTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("config: invalid %s %q", envvar.AudiogenServerHTTPPort, v)
		}
		cfg.Server.Port = port
	}

	if v := getenv(envvar.AudiogenMusicModel); v != "" {
		cfg.setModel(TaskMusic, func(m *ModelConfig) { m.Model = v })
	}
	if v := getenv(envvar.AudiogenSFXModel); v != "" {
		cfg.setModel(TaskSFX, func(m *ModelConfig) { m.Model = v })
	}
	if v := getenv(envvar.AudiogenDevice); v != "" {
		for task := range cfg.Models {
			cfg.setModel(task, func(m *ModelConfig) { m.Device = v })
		}
	}
	if v := strings.ToLower(getenv(envvar.AudiogenBackend)); v != "" {
		switch v {
		case BackendAudiocraft, BackendRemote, BackendGRPC:
		default:
			return fmt.Errorf("config: invalid %s %q", envvar.AudiogenBackend, v)
		}
		for task := range cfg.Models {
			cfg.setModel(task, func(m *ModelConfig) { m.Backend = v })
		}
	}

	if v := getenv(envvar.AudiogenArtifactsDir); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v := getenv(envvar.AudiogenModelsPath); v != "" {
		cfg.Storage.ModelsDir = v
	}
	if v := getenv(envvar.AudiogenLogFile); v != "" {
		cfg.Log.File = v
	}

	return nil
}

// ModelsDir returns the expanded directory prefetched weights are stored in.
func (c *Config) ModelsDir() string {
	if c.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(c.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(DefaultModelsPath())
}

func (c *Config) setModel(task string, fn func(*ModelConfig)) {
	if c.Models == nil {
		c.Models = map[string]ModelConfig{}
	}
	m := c.Models[task]
	fn(&m)
	c.Models[task] = m
}

// fillModelDefaults restores defaults for fields a partial models.<task> entry left empty.
func (c *Config) fillModelDefaults() {
	defaults := Default().Models
	for task, m := range c.Models {
		d := defaults[task]
		if m.Model == "" {
			m.Model = d.Model
		}
		if m.Device == "" {
			m.Device = DeviceAuto
		}
		if m.Backend == "" {
			m.Backend = BackendAudiocraft
		}
		c.Models[task] = m
	}
}

func (c *Config) resolveDevices() {
	for task, m := range c.Models {
		if m.Device == "" || m.Device == DeviceAuto {
			m.Device = DetectDevice()
			c.Models[task] = m
		}
	}
}
