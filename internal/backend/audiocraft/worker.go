package audiocraft

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ekisa-team/audiogen/internal/backend"
)

const (
	errorCodeOutOfMemory = "out_of_memory"
	maxLineBytes         = 1 << 20
)

var errWorkerExited = errors.New("worker exited")

type request struct {
	Description string  `json:"description"`
	Output      string  `json:"output"`
	Duration    float64 `json:"duration"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	Temperature float64 `json:"temperature"`
	CFGCoef     float64 `json:"cfg_coef"`
	UseSampling bool    `json:"use_sampling"`
}

type response struct {
	SampleRate int    `json:"sample_rate,omitempty"`
	OK         bool   `json:"ok,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
}

func (r response) err() error {
	if r.Error == "" && r.ErrorCode == "" {
		return nil
	}
	if r.ErrorCode == errorCodeOutOfMemory {
		return fmt.Errorf("%w: %s", backend.ErrOutOfMemory, r.Error)
	}
	return backend.EngineFailure(r.Error)
}

// worker is one running serve process. Its stdout is read by a single goroutine.
type worker struct {
	proc  backend.Process
	lines chan []byte
	done  chan struct{}
	quit  chan struct{}

	quitOnce sync.Once
	waitErr  error
}

func startWorker(executor *backend.Executor, args []string) (*worker, error) {
	proc, err := executor.Start(args)
	if err != nil {
		return nil, err
	}

	w := &worker{
		proc:  proc,
		lines: make(chan []byte),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
	}
	go w.read()
	return w, nil
}

// read forwards JSON lines until stdout closes, then reaps the process.
func (w *worker) read() {
	defer close(w.done)

	sc := bufio.NewScanner(w.proc.Stdout())
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		select {
		case w.lines <- append([]byte(nil), line...):
		case <-w.quit:
		}
	}
	w.waitErr = w.proc.Wait()
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// next waits for the next response line.
func (w *worker) next(ctx context.Context) (response, error) {
	select {
	case line := <-w.lines:
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			return response{}, fmt.Errorf("parse worker reply: %w", err)
		}
		return resp, nil
	case <-w.done:
		return response{}, errWorkerExited
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// call sends one request and waits for its reply.
func (w *worker) call(ctx context.Context, req request) (response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}
	if _, err := w.proc.Stdin().Write(append(payload, '\n')); err != nil {
		return response{}, fmt.Errorf("%w: %v", errWorkerExited, err)
	}
	return w.next(ctx)
}

// failure classifies an error from next or call. A canceled or expired context wins.
func (w *worker) failure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("audiocraft: %w", ctxErr)
	}
	if !errors.Is(err, errWorkerExited) {
		return fmt.Errorf("%w: %v", backend.ErrEngine, err)
	}

	msg := lastNonEmpty(w.proc.StderrTail())
	if msg == "" {
		msg = err.Error()
		if w.waitErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, w.waitErr)
		}
	}
	return backend.EngineFailure(msg)
}

// kill terminates the process and waits for it to be reaped.
func (w *worker) kill() {
	w.quitOnce.Do(func() { close(w.quit) })
	_ = w.proc.Kill()
	<-w.done
}

// stop closes stdin so the worker exits on its own, killing it after grace.
func (w *worker) stop(grace time.Duration) error {
	w.quitOnce.Do(func() { close(w.quit) })
	if err := w.proc.Stdin().Close(); err != nil {
		w.kill()
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-time.After(grace):
		w.kill()
		return fmt.Errorf("audiocraft: worker did not exit within %s", grace)
	}
}

// lastNonEmpty keeps the final line of a traceback, which carries the exception message.
func lastNonEmpty(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
