package config

import (
	"errors"
	"time"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"
)

// Task keys accepted under models.
const (
	TaskMusic = "music"
	TaskSFX   = "sfx"
)

// Backend providers accepted in models.<task>.backend.
const (
	BackendAudiocraft = "audiocraft"
	BackendRemote     = "remote"
	BackendGRPC       = "grpc"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    ServerConfig           `json:"server"    yaml:"server"`
	Models    map[string]ModelConfig `json:"models"    yaml:"models"`
	Backends  BackendsConfig         `json:"backends"  yaml:"backends"`
	Artifacts ArtifactsConfig        `json:"artifacts" yaml:"artifacts"`
	Encoding  EncodingConfig         `json:"encoding"  yaml:"encoding"`
	Storage   StorageConfig          `json:"storage"   yaml:"storage"`
	Startup   StartupConfig          `json:"startup"   yaml:"startup"`
	Log       LogConfig              `json:"log"       yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host         string        `json:"host"          yaml:"host"`
	Port         int           `json:"port"          yaml:"port"`
	CORSOrigins  []string      `json:"cors_origins"  yaml:"cors_origins"`
	ReadTimeout  time.Duration `json:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// ModelConfig holds configuration for the model serving one task.
type ModelConfig struct {
	Enabled    *bool          `json:"enabled,omitempty"     yaml:"enabled,omitempty"`
	Model      string         `json:"model"                 yaml:"model"`
	Device     string         `json:"device,omitempty"      yaml:"device,omitempty"`
	Backend    string         `json:"backend,omitempty"     yaml:"backend,omitempty"`
	SampleRate int            `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	Params     map[string]any `json:"params,omitempty"      yaml:"params,omitempty"`
	Source     SourceConfig   `json:"source,omitempty"      yaml:"source,omitempty"`
}

// IsEnabled reports whether the task should be loaded at startup. Defaults to true.
func (m ModelConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// SourceConfig wraps optional weight sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
}

// BackendsConfig holds per-provider engine settings.
type BackendsConfig struct {
	Audiocraft AudiocraftConfig `json:"audiocraft" yaml:"audiocraft"`
	Remote     RemoteConfig     `json:"remote"     yaml:"remote"`
	GRPC       GRPCConfig       `json:"grpc"       yaml:"grpc"`
}

// AudiocraftConfig configures the subprocess backend.
type AudiocraftConfig struct {
	Bin     string        `json:"bin"     yaml:"bin"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// RemoteConfig configures the HTTP sidecar backend.
type RemoteConfig struct {
	URL     string              `json:"url"              yaml:"url"`
	Timeout time.Duration       `json:"timeout"          yaml:"timeout"`
	Server  *RemoteServerConfig `json:"server,omitempty" yaml:"server,omitempty"`
}

// RemoteServerConfig makes the service spawn the sidecar itself.
type RemoteServerConfig struct {
	Bin          string            `json:"bin"                     yaml:"bin"`
	Args         []string          `json:"args,omitempty"          yaml:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"           yaml:"env,omitempty"`
	Port         int               `json:"port"                    yaml:"port"`
	ReadyTimeout time.Duration     `json:"ready_timeout,omitempty" yaml:"ready_timeout,omitempty"`
}

// GRPCConfig configures the gRPC sidecar backend.
type GRPCConfig struct {
	Address string        `json:"address" yaml:"address"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// ArtifactsConfig holds where generated files go and how they are addressed.
type ArtifactsConfig struct {
	Dir       string `json:"dir"        yaml:"dir"`
	URLPrefix string `json:"url_prefix" yaml:"url_prefix"`
}

// EncodingConfig holds the loudness strategy applied to every artifact.
type EncodingConfig struct {
	HeadroomDB float64 `json:"headroom_db" yaml:"headroom_db"`
	Compressor bool    `json:"compressor"  yaml:"compressor"`
}

// StorageConfig holds where prefetched model weights are cached.
type StorageConfig struct {
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
}

// StartupConfig controls what happens when a model fails to load.
type StartupConfig struct {
	FailFast bool `json:"fail_fast" yaml:"fail_fast"`
}

// LogConfig holds logger settings. An empty Level keeps the environment's default.
type LogConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	File  string `json:"file,omitempty"  yaml:"file,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for model weights.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// ErrNoSource is returned when a model has no weight source configured.
var ErrNoSource = errors.New("no source configured for model")

// GetSource returns the active source for the model.
func (m *ModelConfig) GetSource() (ModelSource, error) {
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}

	return nil, ErrNoSource
}

// SetHuggingFaceSource sets the Hugging Face source.
func (m *ModelConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	m.Source.HuggingFace = &source
}
