// Package source fetches model weights into the local models directory before a backend loads them.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekisa-team/audiogen/internal/config"
	"github.com/ekisa-team/audiogen/internal/xfs"
)

// ErrUnsupportedSource is returned for a source type with no downloader.
var ErrUnsupportedSource = errors.New("unsupported model source")

// Downloader fetches a model's weights into targetDir.
// It returns the local path, whether the cached copy was reused, and any error.
type Downloader interface {
	Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error)
}

// GetDownloader returns the downloader for a source type.
func GetDownloader(_ context.Context, sourceType config.SourceType) (Downloader, error) {
	switch sourceType {
	case config.SourceTypeHuggingFace:
		return NewHuggingFaceDownloader(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, sourceType)
	}
}

// EnsureModelsDirectory creates the models directory if needed.
func EnsureModelsDirectory(path string) error {
	return xfs.EnsureDir(path)
}
