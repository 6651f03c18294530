// Package image implements listing cameras, controlling a live camera stream,
// capturing frames from it, and having captured frames inspected for crop
// diseases.
package image

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the state of a Controller.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Session is a live stream from one device, owned by the Controller that
// started it.
type Session struct {
	stream    Stream
	deviceID  string
	startedAt time.Time
	active    atomic.Bool
	busy      atomic.Bool // Capture or inspection in flight.
}

// Stream returns the stream of the session.
func (s *Session) Stream() Stream {
	return s.stream
}

// DeviceID returns the device the session streams from.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// StartedAt returns when the stream became active.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Active reports whether the session has not been stopped.
func (s *Session) Active() bool {
	return s != nil && s.active.Load()
}

func (s *Session) tryBegin() bool {
	return s.busy.CompareAndSwap(false, true)
}

func (s *Session) end() {
	s.busy.Store(false)
}

// ControllerOpts are options for a Controller.
type ControllerOpts struct {
	Logger *zap.Logger
	Width  int // Ideal stream width, DefaultWidth if zero.
	Height int // Ideal stream height, DefaultHeight if zero.
}

// Controller starts and stops camera streams, keeping at most one session
// active, and attaches the active stream to a display surface once one is
// ready.
type Controller struct {
	platform Platform
	opts     ControllerOpts
	log      *zap.Logger

	startMu sync.Mutex // Serializes Start.

	mu       sync.Mutex
	state    State
	err      error
	gen      uint64 // Incremented by Start and Stop, so a Stop during Starting wins.
	session  *Session
	surface  Surface
	attached Stream
}

// NewController returns a controller for streams from platform.
func NewController(platform Platform, opts *ControllerOpts) *Controller {
	c := &Controller{platform: platform}
	if opts != nil {
		c.opts = *opts
	}
	c.log = c.opts.Logger
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// ListCameras returns the available cameras. Failures are logged and
// result in an empty list, callers should then disable starting a camera.
func (c *Controller) ListCameras(ctx context.Context) []Device {
	devs, err := c.platform.ListDevices(ctx)
	if err != nil {
		c.log.Warn("listing cameras", zap.Error(err))
		return []Device{}
	}
	if devs == nil {
		devs = []Device{}
	}
	c.log.Debug("listed cameras", zap.Int("count", len(devs)))
	return devs
}

// Start releases any active session, then opens a stream for deviceID. If a
// surface is ready the stream is attached to it, otherwise attaching happens
// when SurfaceReady is called.
//
// All failures, including permission errors and a Stop during start, are
// returned as *StartError.
func (c *Controller) Start(ctx context.Context, deviceID string) (*Session, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	c.releaseLocked()
	c.gen++
	gen := c.gen
	c.state = StateStarting
	c.err = nil
	c.mu.Unlock()

	cons := Constraints{DeviceID: deviceID, Width: c.opts.Width, Height: c.opts.Height}.WithDefaults()
	c.log.Debug("starting camera", zap.String("device", deviceID), zap.Int("width", cons.Width), zap.Int("height", cons.Height))
	stream, err := c.platform.GetStream(ctx, cons)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		StopStream(stream)
		c.log.Debug("camera stopped while starting", zap.String("device", deviceID))
		return nil, &StartError{deviceID, ErrStopped}
	}
	if err != nil {
		serr := &StartError{deviceID, err}
		c.state = StateError
		c.err = serr
		c.log.Warn("could not start camera", zap.String("device", deviceID), zap.Error(err))
		return nil, serr
	}

	s := &Session{stream: stream, deviceID: deviceID, startedAt: time.Now()}
	s.active.Store(true)
	c.session = s
	c.state = StateActive
	c.attachLocked()
	c.log.Info("camera started", zap.String("device", deviceID), zap.Int("tracks", len(stream.Tracks())))
	return s, nil
}

// Stop stops every track of the active session and detaches it from the
// surface. Stop is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.releaseLocked()
	c.state = StateIdle
	c.err = nil
}

func (c *Controller) releaseLocked() {
	s := c.session
	if s == nil {
		return
	}
	s.active.Store(false)
	if c.surface != nil && c.attached != nil {
		c.surface.Attach(nil)
	}
	c.attached = nil
	StopStream(s.stream)
	c.session = nil
	c.log.Info("camera stopped", zap.String("device", s.deviceID))
}

// SurfaceReady registers surf as the display surface and attaches the active
// stream, if any. Surfaces must not call back into the controller from
// Attach.
func (c *Controller) SurfaceReady(surf Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface = surf
	c.attached = nil
	c.attachLocked()
}

// SurfaceGone unregisters surf. It is a no-op if surf is not the current
// surface.
func (c *Controller) SurfaceGone(surf Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface != surf {
		return
	}
	c.surface = nil
	c.attached = nil
}

func (c *Controller) attachLocked() {
	if c.surface == nil || c.session == nil || c.attached == c.session.stream {
		return
	}
	c.surface.Attach(c.session.stream)
	c.attached = c.session.stream
	c.log.Debug("attached stream to surface", zap.String("device", c.session.deviceID))
}

// State returns the current state, and the start error when in StateError.
func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.err
}

// Session returns the active session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
