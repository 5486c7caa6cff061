package bootstrap

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"moshvm/internal/logging"
)

// FileKnownHosts backs KnownHosts with a real file on platforms that have
// one (native CLI test harness), watched with fsnotify so a long-lived
// client instance keeps a fresh view of external edits. This is additive
// to MapKnownHosts, which remains the default and only path inside the
// sandboxed plugin runtime.
type FileKnownHosts struct {
	logger logging.Logger
	path   string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	entries map[string]string
}

// NewFileKnownHosts loads path (creating it if absent) and starts
// watching it for external edits.
func NewFileKnownHosts(logger logging.Logger, path string) (*FileKnownHosts, error) {
	f := &FileKnownHosts{logger: logger, path: path, entries: make(map[string]string)}
	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}
	f.watcher = watcher
	go f.watchLoop()
	return f, nil
}

func (f *FileKnownHosts) watchLoop() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := f.reload(); err != nil {
					f.logger.WLogf("known_hosts reload failed: %s", err)
				}
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.WLogf("known_hosts watcher error: %s", err)
		}
	}
}

func (f *FileKnownHosts) reload() error {
	file, err := os.OpenFile(f.path, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		entries[parts[0]] = parts[1]
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
	return nil
}

func (f *FileKnownHosts) persist() error {
	file, err := os.Create(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	f.mu.Lock()
	for key, fp := range f.entries {
		if _, err := w.WriteString(key + " " + fp + "\n"); err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.mu.Unlock()
	return w.Flush()
}

func (f *FileKnownHosts) Lookup(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.entries[key]
	return fp, ok
}

func (f *FileKnownHosts) Store(key, fingerprint string) {
	f.mu.Lock()
	f.entries[key] = fingerprint
	f.mu.Unlock()
	if err := f.persist(); err != nil {
		f.logger.WLogf("known_hosts persist failed: %s", err)
	}
}

func (f *FileKnownHosts) Delete(key string) {
	f.mu.Lock()
	delete(f.entries, key)
	f.mu.Unlock()
	if err := f.persist(); err != nil {
		f.logger.WLogf("known_hosts persist failed: %s", err)
	}
}

// Close stops the watcher.
func (f *FileKnownHosts) Close() error {
	if f.watcher == nil {
		return nil
	}
	return f.watcher.Close()
}
