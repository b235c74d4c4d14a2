package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeFunc receives the previous config, the newly loaded one and their
// [Diff] each time the watched file settles on a different valid config.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// DefaultWatchInterval is how often [Watcher.Run] stats the config file.
const DefaultWatchInterval = 2 * time.Second

// stamp identifies one version of the file on disk without reading it.
type stamp struct {
	mtime time.Time
	size  int64
}

func stampOf(info os.FileInfo) stamp {
	return stamp{mtime: info.ModTime(), size: info.Size()}
}

// Watcher reloads a config file when it is edited. Edits that do not parse
// or validate are reported once and otherwise ignored, so the bridge keeps
// running on the last good config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	current atomic.Pointer[Config]

	// mu serialises Check. seen is the last stamp looked at, good or bad;
	// raw is the content of the current config.
	mu   sync.Mutex
	seen stamp
	raw  []byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. Polling starts with [Watcher.Run].
// onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	cfg, raw, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.raw, w.seen = raw, st
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Run polls the file until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				slog.Warn("config: reload skipped, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Check looks at the file once. It reports whether a new config was
// applied. A file whose size and modification time have not moved since
// the last check is not read, so a broken edit yields its error only once.
func (w *Watcher) Check() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if stampOf(info) == w.seen {
		return false, nil
	}
	cfg, raw, st, err := w.read()
	w.seen = st
	if err != nil {
		return false, err
	}
	if bytes.Equal(raw, w.raw) {
		return false, nil
	}
	w.raw = raw
	old := w.current.Swap(cfg)

	diff := Diff(old, cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level", diff.LogLevelChanged,
		"barge_in", diff.BargeInChanged,
		"vad", diff.VADChanged,
		"wake_word", diff.WakeWordChanged,
	)
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config: changes take effect after a restart", "sections", diff.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
	return true, nil
}

// read loads and validates the file. The returned stamp is taken before
// reading so a write racing the read is picked up by the next check.
func (w *Watcher) read() (*Config, []byte, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, stamp{}, err
	}
	st := stampOf(info)
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, st, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, st, err
	}
	return cfg, raw, st, nil
}
