package image

import (
	"bytes"
	"encoding/base64"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	krishisahay "github.com/krishisahay/camera-sdk-go"
)

// DefaultQuality is the JPEG quality of captured frames.
const DefaultQuality = 80

// CapturedImage is a still frame taken from a session. The detection result
// or error is filled in once inspection completes, possibly after the
// session has stopped.
type CapturedImage struct {
	ID         string
	DeviceID   string
	JPEG       []byte
	Size       image.Point
	CapturedAt time.Time

	mu     sync.Mutex
	result *krishisahay.DetectionResult
	err    error
}

// DataURL returns the image as a data URL.
func (i *CapturedImage) DataURL() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(i.JPEG)
}

// Result returns the detection result, nil if not inspected (yet) or if
// inspection failed.
func (i *CapturedImage) Result() *krishisahay.DetectionResult {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.result
}

// Err returns the error of a failed inspection.
func (i *CapturedImage) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

func (i *CapturedImage) setResult(r *krishisahay.DetectionResult) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.result = r
	i.err = nil
}

func (i *CapturedImage) setErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.result = nil
	i.err = err
}

// CapturerOpts are options for a Capturer.
type CapturerOpts struct {
	Logger  *zap.Logger
	Quality int // JPEG quality, DefaultQuality if zero.
}

// Capturer takes JPEG snapshots of active sessions.
type Capturer struct {
	quality int
	log     *zap.Logger
}

// NewCapturer returns a new capturer.
func NewCapturer(opts *CapturerOpts) *Capturer {
	var xopts CapturerOpts
	if opts != nil {
		xopts = *opts
	}
	c := &Capturer{quality: xopts.Quality, log: xopts.Logger}
	if c.quality <= 0 || c.quality > 100 {
		c.quality = DefaultQuality
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Capture snapshots the current frame of s. It fails with *CaptureError if s
// is not active or the frame size is unknown, and with ErrBusy if a capture
// for s is already in flight.
func (c *Capturer) Capture(s *Session) (*CapturedImage, error) {
	if !s.Active() {
		return nil, &CaptureError{Reason: "no active camera session"}
	}
	if !s.tryBegin() {
		return nil, ErrBusy
	}
	defer s.end()
	return c.capture(s)
}

// capture must be called with s.busy held.
func (c *Capturer) capture(s *Session) (*CapturedImage, error) {
	size := s.stream.Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil, &CaptureError{Reason: "frame size not known yet"}
	}
	frame, err := s.stream.Frame()
	if err != nil {
		return nil, &CaptureError{Reason: "reading frame", Err: err}
	}
	if !s.Active() {
		return nil, &CaptureError{Reason: "session stopped during capture"}
	}

	t0 := time.Now()
	var bitmap *image.NRGBA
	if frame.Bounds().Size() != size {
		bitmap = imaging.Resize(frame, size.X, size.Y, imaging.Lanczos)
	} else {
		bitmap = imaging.Clone(frame)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, bitmap, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, &CaptureError{Reason: "encoding jpeg", Err: err}
	}

	img := &CapturedImage{
		ID:         uuid.NewString(),
		DeviceID:   s.deviceID,
		JPEG:       buf.Bytes(),
		Size:       size,
		CapturedAt: time.Now(),
	}
	c.log.Debug("captured frame", zap.String("id", img.ID), zap.Stringer("size", size), zap.Int("bytes", len(img.JPEG)), zap.Duration("encoding", time.Since(t0)))
	return img, nil
}
