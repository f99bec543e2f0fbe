package board

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ManifestChange carries a reloaded manifest, or the error that prevented
// reloading it.
type ManifestChange struct {
	Manifest *Manifest
	Err      error
}

// ManifestWatcher monitors a board definition file and emits a freshly
// parsed manifest after each settled edit. The parent directory is watched so
// editors that replace the file via rename are still observed.
type ManifestWatcher struct {
	Path    string
	Changes <-chan ManifestChange // Read-only external channel

	changes  chan ManifestChange
	done     chan struct{}
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewManifestWatcher creates a watcher for the given definition file.
func NewManifestWatcher(path string) (*ManifestWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}

	ch := make(chan ManifestChange, 4)
	return &ManifestWatcher{
		Path:     abs,
		Changes:  ch,
		changes:  ch,
		done:     make(chan struct{}),
		watcher:  fw,
		debounce: 100 * time.Millisecond,
	}, nil
}

// Start begins watching the definition file.
func (w *ManifestWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.Path)); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and the Changes channel.
func (w *ManifestWatcher) Stop() {
	w.watcher.Close()
	<-w.done
	close(w.changes)
}

func (w *ManifestWatcher) loop() {
	defer close(w.done)

	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				if !pending.IsZero() {
					w.emit()
				}
				return
			}
			if filepath.Clean(event.Name) != w.Path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.Now()
			}

		case <-ticker.C:
			if !pending.IsZero() && time.Since(pending) >= w.debounce {
				w.emit()
				pending = time.Time{}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next edit retries.
		}
	}
}

func (w *ManifestWatcher) emit() {
	m, err := LoadManifest(w.Path)
	change := ManifestChange{Manifest: m, Err: err}
	// A consumer that falls behind loses the oldest pending change, never the
	// newest. emit is the only sender, so the retry cannot spin.
	for {
		select {
		case w.changes <- change:
			return
		default:
		}
		select {
		case <-w.changes:
		default:
		}
	}
}
