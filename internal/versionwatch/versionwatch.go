// Package versionwatch follows a version file and deploys each new version
// written to it.
package versionwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ErrEmptyVersion is returned when the version file holds only whitespace.
var ErrEmptyVersion = errors.New("versionwatch: empty version file")

// DeployFunc activates version.
type DeployFunc func(ctx context.Context, version string) error

// Read returns the trimmed content of the version file at path.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read version file: %w", err)
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyVersion, path)
	}
	return version, nil
}

// Watcher reports changes to a version file.
//
// The parent directory is watched rather than the file itself so that
// editors and deploy tools replacing the file by rename are still observed.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for watch events.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New starts watching path. Events are only consumed once Run is called.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve version file: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w := &Watcher{path: abs, fsw: fsw}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run calls deploy each time the file settles on a version other than
// current. A failed deploy is logged and retried on the next change event.
// Run returns nil when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, current string, deploy DeployFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log().Warn("version watch error", "error", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			version, err := Read(w.path)
			if err != nil {
				w.log().Debug("version file not readable", "path", w.path, "error", err)
				continue
			}
			if version == current {
				continue
			}
			w.log().Info("version changed", "from", current, "to", version)
			if err := deploy(ctx, version); err != nil {
				w.log().Error("deploy failed", "version", version, "error", err)
				continue
			}
			current = version
		}
	}
}

func (w *Watcher) log() *slog.Logger {
	if w.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.logger
}
