package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	krishisahay "github.com/krishisahay/camera-sdk-go"
)

// ProcessSpec describes an external program that streams a camera by
// writing JPEG files into a directory, eg ffmpeg or gst-launch-1.0.
type ProcessSpec struct {
	DeviceID string
	Name     string                    // Executable.
	Args     func(dir string) []string // Arguments, given the directory frames must be written to.

	// FrameOp are the file events after which a frame file is read. Tools
	// differ in how they write files. Partially written files are skipped.
	FrameOp fsnotify.Op

	// Size is the negotiated frame size. If zero, the size of the first
	// frame is used.
	Size image.Point

	InstallHint  string        // Added to the error if Name is not installed.
	StartTimeout time.Duration // How long to wait for the first frame, 10s if zero.
	Logger       *zap.Logger
	Verbose      bool // Copy the program's output to stdout/stderr.
}

// StartProcess starts the program described by ps and waits for its first frame.
// The program is stopped when the only track of the returned stream is
// stopped.
//
// If the program is not installed, or exits before producing a frame, the
// error wraps ErrDeviceUnavailable.
func StartProcess(ctx context.Context, ps ProcessSpec) (rstream Stream, rerr error) {
	log := ps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if ps.StartTimeout == 0 {
		ps.StartTimeout = 10 * time.Second
	}

	t := &processTrack{
		id:   fmt.Sprintf("%s:%s", ps.Name, ps.DeviceID),
		done: make(chan struct{}),
		log:  log,
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			t.Stop()
		}
	}()

	tempDir, err := krishisahay.TempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %v", err)
	}
	t.tempDir = tempDir
	log.Debug("writing frames to temp dir", zap.String("program", ps.Name), zap.String("dir", tempDir))

	frames, err := watchFrameDir(tempDir, ps.FrameOp, log)
	if err != nil {
		return nil, err
	}
	t.frames = frames

	args := ps.Args(tempDir)
	log.Debug("starting camera program", zap.String("program", ps.Name), zap.Strings("args", args))

	pctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	cmd := exec.CommandContext(pctx, ps.Name, args...)
	cmd.Dir = tempDir
	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr
	if ps.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(os.Stderr, stderr)
	}
	if err := cmd.Start(); err != nil {
		close(t.done)
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrDeviceUnavailable, ps.Name, ps.InstallHint)
		}
		return nil, fmt.Errorf("%w: starting %s: %v", ErrDeviceUnavailable, ps.Name, err)
	}
	t.live.Store(true)
	go func() {
		err := cmd.Wait()
		t.live.Store(false)
		log.Debug("camera program exited", zap.String("program", ps.Name), zap.Error(err))
		close(t.done)
	}()

	timer := time.NewTimer(ps.StartTimeout)
	defer timer.Stop()
	select {
	case <-frames.first:
	case <-t.done:
		return nil, fmt.Errorf("%w: %s exited before the first frame: %s", ErrDeviceUnavailable, ps.Name, strings.TrimSpace(stderr.String()))
	case <-timer.C:
		return nil, fmt.Errorf("%w: no frame from %s within %v", ErrDeviceUnavailable, ps.Name, ps.StartTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	size := ps.Size
	if size == (image.Point{}) {
		size = frames.Size()
	}
	return &processStream{track: t, size: size}, nil
}

type processStream struct {
	track *processTrack
	size  image.Point
}

func (s *processStream) Tracks() []Track {
	return []Track{s.track}
}

func (s *processStream) Size() image.Point {
	return s.size
}

func (s *processStream) Frame() (image.Image, error) {
	if !s.track.Live() {
		return nil, fmt.Errorf("%w: camera program stopped", ErrDeviceUnavailable)
	}
	return s.track.frames.Frame()
}

type processTrack struct {
	id      string
	log     *zap.Logger
	tempDir string
	frames  *frameDir
	cancel  context.CancelFunc
	done    chan struct{} // Closed when the program exited.
	live    atomic.Bool
	once    sync.Once
}

func (t *processTrack) ID() string {
	return t.id
}

func (t *processTrack) Live() bool {
	return t.live.Load()
}

// Stop kills the program, waits for it to exit, and removes its frames.
func (t *processTrack) Stop() {
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
			<-t.done
		}
		t.live.Store(false)
		if t.frames != nil {
			t.frames.Close()
		}
		if t.tempDir != "" {
			os.RemoveAll(t.tempDir)
		}
		t.log.Debug("camera program stopped", zap.String("track", t.id))
	})
}

// CheckDeviceNode checks that a device node like /dev/video0 can be opened,
// mapping failures to ErrPermissionDenied or ErrDeviceUnavailable. IDs that
// are not paths under /dev are not checked.
func CheckDeviceNode(id string) error {
	if !strings.HasPrefix(id, "/dev/") {
		return nil
	}
	f, err := os.Open(id)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return f.Close()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if n := b.buf.Len() - b.max; n > 0 {
		b.buf.Next(n)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
