package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bridgekit/claude-mcp/internal/logger"
)

var log = logger.ForComponent("config")

const debounceWindow = 300 * time.Millisecond

// Watcher reloads the config file on change and hands the parsed result to a
// callback. Only the fields the callback applies are hot; the rest take
// effect on the next start.
type Watcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	onReload  func(*Config)
	cancel    context.CancelFunc
}

func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors replace config files by
	// rename, which drops a watch placed on the file itself.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		path:      path,
		fsWatcher: fsWatcher,
		onReload:  onReload,
	}, nil
}

func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fsWatcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		log.Warn("config reload failed, keeping previous settings", "error", err)
		return
	}
	log.Info("config reloaded", "path", w.path)
	w.onReload(cfg)
}
