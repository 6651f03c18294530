// Package imagetest provides an in-memory camera platform for tests.
package imagetest

import (
	"context"
	"fmt"
	stdimage "image"
	"image/color"
	"sync"

	"github.com/krishisahay/camera-sdk-go/image"
)

// Platform is a fake camera platform. Each stream has a single track and
// produces a solid-colour frame of the requested size. Platform keeps count
// of live tracks, and the highest number of live tracks seen at once.
type Platform struct {
	mu       sync.Mutex
	devices  []image.Device
	errs     map[string]error // By device ID, returned by GetStream.
	listErr  error
	gate     chan struct{} // If set, GetStream blocks until it is closed.
	started  int
	live     int
	maxLive  int
	streams  []*Stream
	zeroSize bool
}

// Check that Platform implements interface image.Platform.
var _ image.Platform = (*Platform)(nil)

// NewPlatform returns a platform with the given devices.
func NewPlatform(devices ...image.Device) *Platform {
	return &Platform{devices: devices, errs: map[string]error{}}
}

// FailDevice makes GetStream for id fail with err.
func (p *Platform) FailDevice(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[id] = err
}

// FailList makes ListDevices fail with err.
func (p *Platform) FailList(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listErr = err
}

// Block makes GetStream wait until the returned function is called.
func (p *Platform) Block() (release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate := make(chan struct{})
	p.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// ZeroSize makes new streams report an unknown frame size.
func (p *Platform) ZeroSize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zeroSize = true
}

// ListDevices returns the configured devices.
func (p *Platform) ListDevices(ctx context.Context) ([]image.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]image.Device(nil), p.devices...), nil
}

// GetStream opens a fake stream.
func (p *Platform) GetStream(ctx context.Context, c image.Constraints) (image.Stream, error) {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[c.DeviceID]; err != nil {
		return nil, err
	}
	found := false
	for _, d := range p.devices {
		if d.ID == c.DeviceID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no device %q", image.ErrDeviceUnavailable, c.DeviceID)
	}

	p.started++
	size := stdimage.Pt(c.Width, c.Height)
	if p.zeroSize {
		size = stdimage.Point{}
	}
	s := &Stream{
		platform: p,
		size:     size,
		color:    color.NRGBA{R: uint8(40 * p.started), G: 160, B: 60, A: 255},
	}
	s.track = &Track{id: fmt.Sprintf("%s#%d", c.DeviceID, p.started), stream: s, live: true}
	p.live++
	if p.live > p.maxLive {
		p.maxLive = p.live
	}
	p.streams = append(p.streams, s)
	return s, nil
}

// LiveTracks returns the number of tracks not yet stopped.
func (p *Platform) LiveTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// MaxLiveTracks returns the highest number of simultaneously live tracks.
func (p *Platform) MaxLiveTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxLive
}

// Streams returns all streams opened so far.
func (p *Platform) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

// Stream is a fake stream.
type Stream struct {
	platform *Platform
	track    *Track
	size     stdimage.Point
	color    color.NRGBA
}

// Tracks returns the single track of the stream.
func (s *Stream) Tracks() []image.Track {
	return []image.Track{s.track}
}

// Size returns the frame size.
func (s *Stream) Size() stdimage.Point {
	return s.size
}

// Frame returns a solid frame, or an error if the track was stopped.
func (s *Stream) Frame() (stdimage.Image, error) {
	if !s.track.Live() {
		return nil, fmt.Errorf("%w: track stopped", image.ErrDeviceUnavailable)
	}
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, s.size.X, s.size.Y))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = s.color.R
		img.Pix[i+1] = s.color.G
		img.Pix[i+2] = s.color.B
		img.Pix[i+3] = s.color.A
	}
	return img, nil
}

// Track is a fake track.
type Track struct {
	id     string
	stream *Stream
	live   bool
}

// ID returns the track ID, "<device>#<n>".
func (t *Track) ID() string {
	return t.id
}

// Live reports whether the track has not been stopped.
func (t *Track) Live() bool {
	p := t.stream.platform
	p.mu.Lock()
	defer p.mu.Unlock()
	return t.live
}

// Stop stops the track.
func (t *Track) Stop() {
	p := t.stream.platform
	p.mu.Lock()
	defer p.mu.Unlock()
	if !t.live {
		return
	}
	t.live = false
	p.live--
}

// Surface records the streams attached to it.
type Surface struct {
	mu       sync.Mutex
	current  image.Stream
	attaches int
}

// Attach records s as the current stream.
func (s *Surface) Attach(st image.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = st
	if st != nil {
		s.attaches++
	}
}

// Current returns the attached stream, or nil.
func (s *Surface) Current() image.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Attaches returns how often a non-nil stream was attached.
func (s *Surface) Attaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches
}
