package recoverystore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// selfWriteWindow suppresses filesystem events arriving shortly after our
// own write. fsnotify, unlike the browser storage event, echoes the
// writer's changes back to it.
const selfWriteWindow = time.Second

// FileStore is the production origin-scoped keyspace: one JSON file per
// key in a shared state directory, with cross-process change notification
// via fsnotify. Every shell window (tab) runs its own process against the
// same directory.
type FileStore struct {
	dir     string
	watcher *fsnotify.Watcher

	mu sync.Mutex // serializes file writes within this process

	subsMu sync.RWMutex
	subs   map[int64]func(*State)
	nextID int64

	lastLocalWrite atomic.Int64 // UnixNano of the last state write/clear
	done           chan struct{}
	wg             sync.WaitGroup
}

// NewFileStore creates the state directory if needed and starts watching
// it for changes made by other processes.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recovery store: mkdir %s: %w", dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("recovery store: watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("recovery store: watch %s: %w", dir, err)
	}

	f := &FileStore{
		dir:     dir,
		watcher: watcher,
		subs:    make(map[int64]func(*State)),
		done:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.watchLoop()
	return f, nil
}

// Close stops the change watcher. Pending notifications are dropped.
func (f *FileStore) Close() error {
	close(f.done)
	err := f.watcher.Close()
	f.wg.Wait()
	return err
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// writeFileAtomic persists via a temp file and rename so a watching
// process never reads a torn write. The temp file lives in the same dir;
// its events are filtered out by name in watchLoop.
func (f *FileStore) writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(f.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *FileStore) WriteState(s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// Record before the persist call so a fast echo is still suppressed.
	f.lastLocalWrite.Store(time.Now().UnixNano())
	if err := f.writeFileAtomic(f.path(stateKey), data, 0o644); err != nil {
		return fmt.Errorf("recovery store: write state: %w", err)
	}
	return nil
}

func (f *FileStore) ReadState() *State {
	raw, err := os.ReadFile(f.path(stateKey))
	if err != nil {
		return nil
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		slog.Debug("recovery store: corrupt state, treating as absent", "error", err)
		return nil
	}
	return &s
}

func (f *FileStore) ClearState() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLocalWrite.Store(time.Now().UnixNano())
	if err := os.Remove(f.path(stateKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("recovery store: clear state: %w", err)
	}
	return nil
}

func (f *FileStore) OnChange(fn func(*State)) func() {
	f.subsMu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = fn
	f.subsMu.Unlock()
	return func() {
		f.subsMu.Lock()
		delete(f.subs, id)
		f.subsMu.Unlock()
	}
}

func (f *FileStore) LastAttempt() (time.Time, bool) {
	raw, err := os.ReadFile(f.path(throttleKey))
	if err != nil {
		return time.Time{}, false
	}
	var rec throttleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return time.Time{}, false
	}
	return rec.LastAttemptAt, true
}

func (f *FileStore) RecordAttempt(at time.Time) error {
	data, err := json.Marshal(throttleRecord{LastAttemptAt: at})
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeFileAtomic(f.path(throttleKey), data, 0o644); err != nil {
		return fmt.Errorf("recovery store: record attempt: %w", err)
	}
	return nil
}

func (f *FileStore) Token() (string, bool) {
	raw, err := os.ReadFile(f.path(tokenKey))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

func (f *FileStore) WriteToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeFileAtomic(f.path(tokenKey), []byte(token), 0o600); err != nil {
		return fmt.Errorf("recovery store: write token: %w", err)
	}
	return nil
}

func (f *FileStore) ClearToken() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(tokenKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("recovery store: clear token: %w", err)
	}
	return nil
}

func (f *FileStore) watchLoop() {
	defer f.wg.Done()
	statePath := f.path(stateKey)
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != statePath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			last := f.lastLocalWrite.Load()
			if last != 0 && time.Since(time.Unix(0, last)) < selfWriteWindow {
				continue
			}
			f.dispatch(f.ReadState())
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("recovery store: watcher error", "error", err)
		}
	}
}

func (f *FileStore) dispatch(s *State) {
	f.subsMu.RLock()
	fns := make([]func(*State), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.subsMu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}
