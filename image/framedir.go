package image

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// frameDir watches a directory into which a camera process writes JPEG
// files. Each complete file is decoded, removed, and kept as the latest
// frame.
type frameDir struct {
	dir     string
	op      fsnotify.Op // Events that signal a complete file.
	log     *zap.Logger
	watcher *fsnotify.Watcher

	first     chan struct{} // Closed on the first decoded frame.
	firstOnce sync.Once

	mu   sync.Mutex
	last image.Image
	err  error
}

func watchFrameDir(dir string, op fsnotify.Op, log *zap.Logger) (*frameDir, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	f := &frameDir{
		dir:     dir,
		op:      op,
		log:     log,
		watcher: watcher,
		first:   make(chan struct{}),
	}
	go f.run()
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registering file change watcher for %s: %v", dir, err)
	}
	return f, nil
}

func (f *frameDir) run() {
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&f.op == 0 || !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			fd, err := os.Open(ev.Name)
			if err != nil {
				f.log.Debug("open written frame", zap.String("file", ev.Name), zap.Error(err))
				continue
			}
			img, err := jpeg.Decode(fd)
			fd.Close()
			if err != nil {
				f.log.Debug("decoding frame, may be partially written", zap.String("file", ev.Name), zap.Error(err))
				continue
			}
			if err := os.Remove(ev.Name); err != nil {
				f.log.Debug("removing frame", zap.String("file", ev.Name), zap.Error(err))
			}
			f.mu.Lock()
			f.last = img
			f.err = nil
			f.mu.Unlock()
			f.firstOnce.Do(func() { close(f.first) })

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.mu.Lock()
			f.err = fmt.Errorf("watching for frames: %v", err)
			f.mu.Unlock()
		}
	}
}

// Frame returns the latest decoded frame.
func (f *frameDir) Frame() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.last == nil {
		return nil, ErrNoFrame
	}
	return f.last, nil
}

// Size returns the size of the latest frame, or the zero point.
func (f *frameDir) Size() image.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return image.Point{}
	}
	return f.last.Bounds().Size()
}

func (f *frameDir) Close() error {
	return f.watcher.Close()
}
