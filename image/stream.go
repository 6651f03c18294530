package image

import (
	"context"
	"image"
)

// Default stream resolution, requested when constraints leave it unset.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Constraints describe the stream requested from a Platform. Width and
// Height are ideal values; the platform may negotiate another size.
type Constraints struct {
	DeviceID string
	Width    int
	Height   int
}

// WithDefaults returns c with unset width and height replaced by the defaults.
func (c Constraints) WithDefaults() Constraints {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	return c
}

// Platform is a source of camera devices and live streams, for example
// ffmpeg with v4l2 on linux.
type Platform interface {
	// ListDevices returns the video input devices. An empty list is not an error.
	ListDevices(ctx context.Context) ([]Device, error)

	// GetStream opens a video-only stream. Errors should wrap
	// ErrPermissionDenied or ErrDeviceUnavailable where applicable.
	GetStream(ctx context.Context, c Constraints) (Stream, error)
}

// Track is one live media track of a stream, holding on to camera hardware
// until stopped.
type Track interface {
	ID() string
	Live() bool

	// Stop releases the track. Stopping a stopped track is a no-op.
	Stop()
}

// Stream is a live sequence of video frames from a single device.
type Stream interface {
	Tracks() []Track

	// Size returns the native frame size, or the zero point if not known yet.
	Size() image.Point

	// Frame returns the most recent frame.
	Frame() (image.Image, error)
}

// Surface displays a stream, eg a preview window or websocket viewer. The
// controller only keeps a back-reference to it.
type Surface interface {
	// Attach binds the surface to s; nil detaches.
	Attach(s Stream)
}

// StopStream stops every track of s. It is safe to call more than once.
func StopStream(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// LiveTracks returns the number of live tracks of s.
func LiveTracks(s Stream) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}
