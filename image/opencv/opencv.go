// Package opencv implements a camera platform on OpenCV's VideoCapture,
// through gocv. It needs OpenCV installed, see https://gocv.io/getting-started/.
package opencv

import (
	"context"
	"fmt"
	stdimage "image"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/krishisahay/camera-sdk-go/image"
)

// Opts has options for a new OpenCV platform.
type Opts struct {
	Logger *zap.Logger
	Probe  int // Number of camera indices probed by ListDevices, 5 if zero.
}

// Platform opens cameras by index or device path.
type Platform struct {
	opts Opts
	log  *zap.Logger
}

// Check that Platform implements interface Platform.
var _ image.Platform = (*Platform)(nil)

// New returns a new OpenCV platform.
func New(opts *Opts) *Platform {
	p := &Platform{}
	if opts != nil {
		p.opts = *opts
	}
	if p.opts.Probe <= 0 {
		p.opts.Probe = 5
	}
	p.log = p.opts.Logger
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// ListDevices probes camera indices, returning those that can be opened.
// OpenCV has no way to list devices otherwise.
func (p *Platform) ListDevices(ctx context.Context) ([]image.Device, error) {
	devs := []image.Device{}
	for i := 0; i < p.opts.Probe; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vc, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		ok := vc.IsOpened()
		vc.Close()
		if !ok {
			continue
		}
		name := fmt.Sprintf("Camera %d", i)
		if i == 0 {
			name = "Built-in Camera"
		}
		devs = append(devs, image.Device{ID: strconv.Itoa(i), Name: name})
	}
	return devs, nil
}

// GetStream opens the camera. DeviceID is an index as returned by
// ListDevices, or a device path.
func (p *Platform) GetStream(ctx context.Context, c image.Constraints) (image.Stream, error) {
	c = c.WithDefaults()
	if err := image.CheckDeviceNode(c.DeviceID); err != nil {
		return nil, err
	}
	var dev any = c.DeviceID
	if i, err := strconv.Atoi(c.DeviceID); err == nil {
		dev = i
	}
	vc, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: opening camera %s: %v", image.ErrDeviceUnavailable, c.DeviceID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: camera %s is not open", image.ErrDeviceUnavailable, c.DeviceID)
	}
	if err := ctx.Err(); err != nil {
		vc.Close()
		return nil, err
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	size := stdimage.Pt(int(vc.Get(gocv.VideoCaptureFrameWidth)), int(vc.Get(gocv.VideoCaptureFrameHeight)))
	p.log.Debug("opened camera", zap.String("device", c.DeviceID), zap.Stringer("size", size))

	s := &stream{
		track: &track{id: "opencv:" + c.DeviceID, vc: vc, mat: gocv.NewMat(), live: true},
		size:  size,
	}
	return s, nil
}

type stream struct {
	track *track
	size  stdimage.Point
}

func (s *stream) Tracks() []image.Track {
	return []image.Track{s.track}
}

func (s *stream) Size() stdimage.Point {
	return s.size
}

// Frame reads the next frame from the camera.
func (s *stream) Frame() (stdimage.Image, error) {
	t := s.track
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return nil, fmt.Errorf("%w: camera closed", image.ErrDeviceUnavailable)
	}
	if ok := t.vc.Read(&t.mat); !ok || t.mat.Empty() {
		return nil, image.ErrNoFrame
	}
	img, err := t.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting frame: %v", err)
	}
	return img, nil
}

type track struct {
	id string

	mu   sync.Mutex
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	live bool
}

func (t *track) ID() string {
	return t.id
}

func (t *track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return
	}
	t.live = false
	t.mat.Close()
	t.vc.Close()
}
