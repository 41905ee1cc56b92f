package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 500 * time.Millisecond
)

// FilterCallback returns true if the event for path should be dropped.
type FilterCallback func(path string) bool

// FileWatcher watches a directory tree and reports quiet points: a signal is
// sent once no event arrived for the debounce timeout.
type FileWatcher struct {
	watchDir string
	raw      chan notify.EventInfo
	changes  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	debounceMu      sync.Mutex
	debounceTimer   *time.Timer
	debounceTimeout time.Duration
	pending         int

	filter FilterCallback
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		changes:         make(chan struct{}, 1),
		done:            make(chan struct{}),
		debounceTimeout: defaultDebounceTimeout,
	}
}

func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// FilterPaths sets the callback applied to raw events before debouncing.
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.filter = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.raw = make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(fw.watchDir+"/...", fw.raw, notify.All); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.loop(ctx)
	return nil
}

func (fw *FileWatcher) Stop() {
	close(fw.done)
	if fw.raw != nil {
		notify.Stop(fw.raw)
	}
	fw.wg.Wait()

	fw.debounceMu.Lock()
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceMu.Unlock()
	slog.Info("file watcher stopped")
}

// Changes receives one value per burst of accepted events.
func (fw *FileWatcher) Changes() <-chan struct{} {
	return fw.changes
}

func (fw *FileWatcher) loop(ctx context.Context) {
	defer fw.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.raw:
			if !ok {
				return
			}
			if fw.filter != nil && fw.filter(event.Path()) {
				continue
			}
			slog.Debug("file watcher", "event", event.Event(), "path", event.Path())
			fw.touch()
		}
	}
}

// touch restarts the quiet period. On linux a single write shows up as a
// burst of events until the file is complete.
func (fw *FileWatcher) touch() {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	fw.pending++
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, fw.flush)
}

func (fw *FileWatcher) flush() {
	fw.debounceMu.Lock()
	n := fw.pending
	fw.pending = 0
	fw.debounceTimer = nil
	fw.debounceMu.Unlock()

	if n == 0 {
		return
	}
	select {
	case fw.changes <- struct{}{}:
	default:
		// a signal is already pending
	}
}
