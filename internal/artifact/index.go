package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const indexDebounce = 100 * time.Millisecond

// Index tracks how many finished artifacts the directory holds, following files added or
// removed by anyone, this process included.
type Index struct {
	dir      string
	watcher  *fsnotify.Watcher
	onChange func(count int)
	count    atomic.Int64
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewIndex scans dir and starts watching it. onChange may be nil.
func NewIndex(dir string, onChange func(count int)) (*Index, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("artifact: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("artifact: watch %s: %w", dir, err)
	}

	idx := &Index{
		dir:      dir,
		watcher:  watcher,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	idx.rescan()

	idx.wg.Add(1)
	go idx.watch()

	return idx, nil
}

// Count returns the number of finished artifacts.
func (i *Index) Count() int {
	return int(i.count.Load())
}

// Close stops watching.
func (i *Index) Close() error {
	close(i.done)
	err := i.watcher.Close()
	i.wg.Wait()
	return err
}

func (i *Index) watch() {
	defer i.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-i.done:
			return

		case event, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(indexDebounce, i.rescan)

		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Artifact watcher error", "dir", i.dir, "error", err)
		}
	}
}

func (i *Index) rescan() {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		slog.Error("Failed to scan artifact directory", "dir", i.dir, "error", err)
		return
	}

	var n int64
	for _, e := range entries {
		if e.Type().IsRegular() && isArtifact(e.Name()) {
			n++
		}
	}

	if old := i.count.Swap(n); old != n && i.onChange != nil {
		i.onChange(int(n))
	}
}
