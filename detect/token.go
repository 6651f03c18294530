package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// TokenFile provides a bearer token stored in a file, as written by the
// platform's login flow. The file is read again whenever it changes, so a
// refreshed token is picked up without a restart.
type TokenFile struct {
	path    string
	log     *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu    sync.Mutex
	token string
	err   error
}

// WatchTokenFile reads the token in path and starts watching it for changes.
// Callers must call Close to stop watching.
func WatchTokenFile(path string, logger *zap.Logger) (*TokenFile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path for token file %q: %v", path, err)
	}
	t := &TokenFile{path: path, log: logger, done: make(chan struct{})}
	if err := t.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	t.watcher = watcher
	go t.run()
	// Watch the directory, editors and login tools replace the file rather
	// than write it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		t.Close()
		return nil, fmt.Errorf("registering file change watcher for token file: %v", err)
	}
	return t, nil
}

func (t *TokenFile) run() {
	defer close(t.done)
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != t.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := t.Reload(); err != nil {
				t.log.Warn("reloading token file", zap.String("path", t.path), zap.Error(err))
			} else {
				t.log.Debug("reloaded token file", zap.String("path", t.path))
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.log.Warn("watching token file", zap.Error(err))
		}
	}
}

// Reload reads the token file. A "Bearer " prefix is ignored.
func (t *TokenFile) Reload() error {
	buf, err := os.ReadFile(t.path)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.err = fmt.Errorf("reading token file: %v", err)
		return t.err
	}
	token := strings.TrimSpace(string(buf))
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	t.token = token
	t.err = nil
	return nil
}

// Token returns the current token.
func (t *TokenFile) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	if t.token == "" {
		return "", fmt.Errorf("token file %s is empty", t.path)
	}
	return t.token, nil
}

// Auth returns an AuthFunc that uses the current token.
func (t *TokenFile) Auth() AuthFunc {
	return func() (map[string]string, error) {
		token, err := t.Token()
		if err != nil {
			return nil, err
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil
	}
}

// Close stops watching the token file.
func (t *TokenFile) Close() error {
	if t.watcher == nil {
		return nil
	}
	err := t.watcher.Close()
	<-t.done
	return err
}
