package config

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const reloadDebounce = 500 * time.Millisecond

// CodexDefaults serves the approval_policy and sandbox_mode defaults from the
// codex CLI's config.toml, hot-reloading when the file changes. A missing or
// unreadable file yields empty defaults; it is never an error.
type CodexDefaults struct {
	path string

	mu             sync.RWMutex
	approvalPolicy string
	sandboxMode    string

	watcher *fsnotify.Watcher
	cancel  chan struct{}
	once    sync.Once
}

// NewCodexDefaults loads the file at path and returns the defaults provider.
func NewCodexDefaults(path string) *CodexDefaults {
	d := &CodexDefaults{path: path, cancel: make(chan struct{})}
	d.reload()
	return d
}

// DefaultRunSettings returns the current defaults; either may be empty.
func (d *CodexDefaults) DefaultRunSettings() (approvalPolicy, sandbox string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.approvalPolicy, d.sandboxMode
}

// Watch starts reloading on file changes. Editors typically replace the file
// rather than write in place, so the parent directory is watched.
func (d *CodexDefaults) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(d.path)); err != nil {
		w.Close()
		return err
	}
	d.watcher = w

	go d.watchLoop()
	return nil
}

// Close stops the watcher.
func (d *CodexDefaults) Close() {
	d.once.Do(func() {
		close(d.cancel)
		if d.watcher != nil {
			d.watcher.Close()
		}
	})
}

func (d *CodexDefaults) watchLoop() {
	var timer *time.Timer

	for {
		select {
		case <-d.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(d.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: editors fire several events per save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, d.reload)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("codex config watcher error: %v", err)
		}
	}
}

func (d *CodexDefaults) reload() {
	v := viper.New()
	v.SetConfigFile(d.path)
	v.SetConfigType("toml")

	approvalPolicy := ""
	sandboxMode := ""
	if err := v.ReadInConfig(); err == nil {
		approvalPolicy = v.GetString("approval_policy")
		sandboxMode = v.GetString("sandbox_mode")
	}

	d.mu.Lock()
	changed := approvalPolicy != d.approvalPolicy || sandboxMode != d.sandboxMode
	d.approvalPolicy = approvalPolicy
	d.sandboxMode = sandboxMode
	d.mu.Unlock()

	if changed {
		log.Printf("codex defaults reloaded: approval_policy=%q sandbox_mode=%q", approvalPolicy, sandboxMode)
	}
}
