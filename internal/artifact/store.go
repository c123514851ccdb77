// Package artifact persists generated waveforms as uniquely named WAV files in a flat directory.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ekisa-team/audiogen/internal/audio"
	"github.com/ekisa-team/audiogen/internal/xfs"
)

const (
	fileExt    = ".wav"
	tempPrefix = ".partial-"
)

var ErrInvalidPrefix = errors.New("artifact: invalid filename prefix")

// Artifact is a persisted audio file.
type Artifact struct {
	Filename        string
	Path            string
	URL             string
	SampleRate      int
	DurationSeconds float64
}

// Store writes artifacts into one directory and addresses them under a URL prefix.
type Store struct {
	dir       string
	urlPrefix string
}

// NewStore creates the directory if needed.
func NewStore(dir, urlPrefix string) (*Store, error) {
	dir = xfs.ExpandTilde(dir)
	if err := xfs.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}

	return &Store{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
	}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// URLPrefix returns the path files are served under.
func (s *Store) URLPrefix() string {
	return s.urlPrefix
}

// NewFilename returns {prefix}_{random hex token}.wav.
func NewFilename(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "") + fileExt
}

// Save normalizes a copy of w with strategy and writes it as 16-bit PCM WAV. The file is
// written under a temporary name and renamed, so readers never observe a partial file.
func (s *Store) Save(prefix string, w *audio.Waveform, strategy audio.Strategy) (*Artifact, error) {
	if prefix == "" || strings.ContainsAny(prefix, `/\.`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	wave := w.Clone()
	strategy.Normalize(wave)

	filename := NewFilename(prefix)
	finalPath := filepath.Join(s.dir, filename)

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*"+fileExt)
	if err != nil {
		return nil, fmt.Errorf("artifact: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := audio.EncodeWAV(tmp, wave); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("artifact: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("artifact: close: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return nil, fmt.Errorf("artifact: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("artifact: rename: %w", err)
	}

	return &Artifact{
		Filename:        filename,
		Path:            finalPath,
		URL:             s.urlPrefix + "/" + filename,
		SampleRate:      wave.SampleRate,
		DurationSeconds: wave.DurationSeconds(),
	}, nil
}

// isArtifact reports whether name is a finished artifact file.
func isArtifact(name string) bool {
	return strings.HasSuffix(name, fileExt) && !strings.HasPrefix(name, ".")
}
