package artifact

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/audiogen/internal/audio"
)

var filenamePattern = regexp.MustCompile(`^music_[0-9a-f]{32}\.wav$`)

func tone(rate int, seconds float64) *audio.Waveform {
	n := int(float64(rate) * seconds)
	ch := make([]float64, n)
	for i := range ch {
		ch[i] = 0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
	}
	return audio.NewWaveform(rate, ch)
}

func TestStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "generated_audio")
	s, err := NewStore(dir, "audio_files/")
	require.NoError(t, err)
	assert.Equal(t, "/audio_files", s.URLPrefix())

	wave := tone(32000, 1)
	original := wave.Channels[0][100]

	a, err := s.Save("music", wave, audio.DefaultStrategy())
	require.NoError(t, err)

	assert.Regexp(t, filenamePattern, a.Filename)
	assert.Equal(t, "/audio_files/"+a.Filename, a.URL)
	assert.Equal(t, filepath.Join(dir, a.Filename), a.Path)
	assert.Equal(t, 32000, a.SampleRate)
	assert.InDelta(t, 1.0, a.DurationSeconds, 1e-9)
	assert.Equal(t, original, wave.Channels[0][100], "caller's waveform is not modified")

	f, err := os.Open(a.Path)
	require.NoError(t, err)
	defer f.Close()
	got, err := audio.DecodeWAV(f)
	require.NoError(t, err)
	assert.Equal(t, 32000, got.SampleRate)
	assert.Equal(t, 32000, got.NumSamples())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestStore_SaveConcurrentUniqueNames(t *testing.T) {
	s, err := NewStore(t.TempDir(), "/audio_files")
	require.NoError(t, err)

	const n = 16
	names := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := s.Save("sfx", tone(16000, 0.1), audio.DefaultStrategy())
			if assert.NoError(t, err) {
				names <- a.Filename
			}
		}()
	}
	wg.Wait()
	close(names)

	seen := map[string]bool{}
	for name := range names {
		assert.False(t, seen[name], "duplicate filename %s", name)
		seen[name] = true
	}
	assert.Len(t, seen, n)
}

func TestStore_SaveRejects(t *testing.T) {
	s, err := NewStore(t.TempDir(), "/audio_files")
	require.NoError(t, err)

	_, err = s.Save("../music", tone(16000, 0.1), audio.DefaultStrategy())
	assert.ErrorIs(t, err, ErrInvalidPrefix)

	_, err = s.Save("music", audio.NewWaveform(16000), audio.DefaultStrategy())
	assert.ErrorIs(t, err, audio.ErrEmptyWaveform)
}

func TestNewStore_PathIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := NewStore(path, "/audio_files")
	assert.Error(t, err)
}

func TestIndex_FollowsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "music_old.wav"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	var mu sync.Mutex
	var last int
	idx, err := NewIndex(dir, func(n int) {
		mu.Lock()
		last = n
		mu.Unlock()
	})
	require.NoError(t, err)
	defer idx.Close()

	assert.Equal(t, 1, idx.Count())

	s, err := NewStore(dir, "/audio_files")
	require.NoError(t, err)
	_, err = s.Save("sfx", tone(16000, 0.1), audio.DefaultStrategy())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return idx.Count() == 2 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "music_old.wav")))
	assert.Eventually(t, func() bool { return idx.Count() == 1 }, 3*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestIndex_MissingDir(t *testing.T) {
	_, err := NewIndex(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
