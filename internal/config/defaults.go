package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8000
	DefaultMusicModel   = "facebook/musicgen-small"
	DefaultSFXModel     = "facebook/audiogen-medium"
	DefaultArtifactsDir = "generated_audio"
	DefaultURLPrefix    = "/audio_files"
	DefaultHeadroomDB   = 16.0
	DefaultAudiocraft   = "audiocraft-worker"
	DefaultRemoteURL    = "http://127.0.0.1:8765"
	DefaultGRPCAddress  = "127.0.0.1:50051"

	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
	DeviceAuto = "auto"
)

// nvidiaDevice is the device node checked when picking a default device.
var nvidiaDevice = "/dev/nvidia0"

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
		},
		Models: map[string]ModelConfig{
			TaskMusic: {Model: DefaultMusicModel, Device: DeviceAuto, Backend: BackendAudiocraft},
			TaskSFX:   {Model: DefaultSFXModel, Device: DeviceAuto, Backend: BackendAudiocraft},
		},
		Backends: BackendsConfig{
			Audiocraft: AudiocraftConfig{Bin: DefaultAudiocraft, Timeout: 10 * time.Minute},
			Remote:     RemoteConfig{URL: DefaultRemoteURL, Timeout: 10 * time.Minute},
			GRPC:       GRPCConfig{Address: DefaultGRPCAddress, Timeout: 10 * time.Minute},
		},
		Artifacts: ArtifactsConfig{Dir: DefaultArtifactsDir, URLPrefix: DefaultURLPrefix},
		Encoding:  EncodingConfig{HeadroomDB: DefaultHeadroomDB, Compressor: true},
	}
}

// DetectDevice returns cuda when an NVIDIA device node is present, otherwise cpu.
func DetectDevice() string {
	if _, err := os.Stat(nvidiaDevice); err == nil {
		return DeviceCUDA
	}
	return DeviceCPU
}

// DefaultConfigPath returns the default path for the audiogen config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "audiogen", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "audiogen")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "audiogen")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "audiogen")
		}
		return filepath.Join(home, ".config", "audiogen")
	}
}

// DefaultConfigFile returns the config file read when no path is given.
func DefaultConfigFile() string {
	return filepath.Join(DefaultConfigPath(), "config.yaml")
}

// DefaultModelsPath returns the default path for the audiogen models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "audiogen", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "audiogen", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "audiogen", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "audiogen", "models")
		}
		return filepath.Join(home, ".cache", "audiogen", "models")
	}
}
