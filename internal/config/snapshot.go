package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
)

// =============================================================================
// ATOMIC SNAPSHOT + HOT RELOAD
// =============================================================================

// Provider publishes immutable config snapshots. Readers call Current and
// must treat the result as read-only; a reload swaps the whole pointer.
type Provider struct {
	current atomic.Pointer[Config]
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewProvider wraps an initial snapshot.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{done: make(chan struct{})}
	p.current.Store(cfg)
	return p
}

// Current returns the live snapshot.
func (p *Provider) Current() *Config {
	return p.current.Load()
}

// Watch starts reloading the snapshot whenever the file at path changes.
// Invalid or unparsable edits are logged and the previous snapshot stays
// published.
func (p *Provider) Watch(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}
	p.path = path
	p.watcher = w

	go p.watchLoop()
	return nil
}

func (p *Provider) watchLoop() {
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(p.path)
			if err != nil {
				logging.Get(logging.CategoryConfig).Error("config reload rejected: %v", err)
				continue
			}
			p.current.Store(cfg)
			logging.Get(logging.CategoryConfig).Info("config reloaded from %s", p.path)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryConfig).Warn("config watcher: %v", err)
		}
	}
}

// Close stops the watcher.
func (p *Provider) Close() {
	close(p.done)
	if p.watcher != nil {
		p.watcher.Close()
	}
}
