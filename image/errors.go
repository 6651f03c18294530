package image

import (
	"errors"
	"fmt"
)

// Platform errors, wrapped by backends when a stream cannot be opened.
var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera unavailable")
)

// ErrBusy is returned when a capture is requested while a capture or
// inspection is already in flight for the same session.
var ErrBusy = errors.New("capture already in progress")

// ErrStopped is returned by Start when Stop was called before the stream was
// acquired.
var ErrStopped = errors.New("camera stopped while starting")

// ErrNoFrame is returned by streams that have not produced a frame yet.
var ErrNoFrame = errors.New("no frame available yet")

// StartError is returned when a camera could not be started, whatever the
// cause. The cause is available through errors.Is and errors.As.
type StartError struct {
	DeviceID string
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("could not start camera %q: %v", e.DeviceID, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// CaptureError is returned when a frame cannot be captured, eg because the
// session is not active or the stream has no known size.
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: %s: %v", e.Reason, e.Err)
	}
	return "capture: " + e.Reason
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}
