// Package gstreamer implements a camera platform with the gstreamer tools.
package gstreamer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/krishisahay/camera-sdk-go/image"
)

const installHint = "executable not found, install with: sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps"

// Opts has options for a new gstreamer platform.
type Opts struct {
	Logger  *zap.Logger
	Verbose bool // Copy gst-launch-1.0 output to stdout/stderr.
}

// Platform lists devices with gst-device-monitor-1.0 and streams them with
// gst-launch-1.0.
type Platform struct {
	opts Opts
	log  *zap.Logger
}

// Check that Platform implements interface Platform.
var _ image.Platform = (*Platform)(nil)

// New returns a new gstreamer platform.
func New(opts *Opts) *Platform {
	p := &Platform{}
	if opts != nil {
		p.opts = *opts
	}
	p.log = p.opts.Logger
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

type device struct {
	ID          string
	Name        string
	DeviceClass string
	RawCaps     []string
	Caps        []image.DeviceCap
	inCapMode   bool
}

var widthRegexp = regexp.MustCompile("width=(?:\\(int\\))?([0-9]+)[^0-9]")
var heightRegexp = regexp.MustCompile("height=(?:\\(int\\))?([0-9]+)[^0-9]")
var framerateRegexp = regexp.MustCompile("framerate=(?:\\(fraction\\))?([0-9]+)[^0-9]")

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// ListDevices returns the video sources with raw video caps, their caps
// ordered by closeness to the default resolution.
func (p *Platform) ListDevices(ctx context.Context) ([]image.Device, error) {
	cmd := exec.CommandContext(ctx, "gst-device-monitor-1.0")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errors.New(installHint)
		}
		return nil, fmt.Errorf("listing devices using gst-device-monitor-1.0: %v", err)
	}
	return parseDevices(string(buf))
}

// parseDevices parses the output of gst-device-monitor-1.0.
func parseDevices(s string) ([]image.Device, error) {
	var r []device
	var d *device
	b := bufio.NewScanner(strings.NewReader(s))
	for b.Scan() {
		s := strings.TrimSpace(b.Text())
		if s == "" {
			continue
		}
		if s == "Device found:" {
			if d != nil {
				r = append(r, *d)
			}
			d = &device{RawCaps: []string{}, Caps: []image.DeviceCap{}}
			continue
		}

		if d == nil {
			continue
		}

		if strings.HasPrefix(s, "name  :") {
			d.Name = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
			continue
		}
		if strings.HasPrefix(s, "class :") {
			d.DeviceClass = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
			continue
		}
		if strings.HasPrefix(s, "caps  :") {
			cap := strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
			d.RawCaps = append(d.RawCaps, cap)
			d.inCapMode = true
			continue
		}
		if strings.HasPrefix(s, "properties:") {
			d.inCapMode = false
			continue
		}
		if d.inCapMode {
			d.RawCaps = append(d.RawCaps, s)
		}
		if strings.HasPrefix(s, "device.path =") || strings.HasPrefix(s, "api.v4l2.path =") {
			d.ID = strings.TrimSpace(strings.SplitN(s, "=", 2)[1])
		}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}

	if d != nil && d.ID != "" {
		r = append(r, *d)
	}

	devs := []image.Device{}
	for _, d := range r {
		if d.DeviceClass != "Video/Source" || d.ID == "" {
			continue
		}
		for _, rc := range d.RawCaps {
			if !strings.HasPrefix(rc, "video/x-raw") {
				continue
			}
			// Terminate the caps string so the last field also matches.
			rc += ","
			mw := widthRegexp.FindStringSubmatch(rc)
			mh := heightRegexp.FindStringSubmatch(rc)
			mf := framerateRegexp.FindStringSubmatch(rc)
			if mw == nil || mh == nil || mf == nil {
				continue
			}
			width, werr := strconv.ParseInt(mw[1], 10, 32)
			height, herr := strconv.ParseInt(mh[1], 10, 32)
			framerate, ferr := strconv.ParseInt(mf[1], 10, 32)
			if werr != nil || herr != nil || ferr != nil {
				continue
			}
			if width != 0 && height != 0 && framerate != 0 {
				d.Caps = append(d.Caps, image.DeviceCap{
					Type:      "video/x-raw",
					Width:     int(width),
					Height:    int(height),
					Framerate: int(framerate),
				})
			}
		}
		if len(d.Caps) == 0 {
			continue
		}
		sortCaps(d.Caps, image.DefaultWidth, image.DefaultHeight)

		devs = append(devs, image.Device{
			ID:   d.ID,
			Name: d.Name,
			Caps: d.Caps,
		})
	}
	return devs, nil
}

// sortCaps orders caps by closeness to the given resolution.
func sortCaps(caps []image.DeviceCap, width, height int) {
	distance := func(a image.DeviceCap) int {
		return abs(a.Width-width)*abs(a.Height-height) + abs(a.Width-width) + abs(a.Height-height)
	}
	sort.SliceStable(caps, func(i, j int) bool {
		return distance(caps[i]) < distance(caps[j])
	})
}

// GetStream starts gst-launch-1.0 with the device's raw caps closest to the
// requested resolution, encoding frames to JPEG files in a temporary
// directory.
func (p *Platform) GetStream(ctx context.Context, c image.Constraints) (image.Stream, error) {
	c = c.WithDefaults()
	if err := image.CheckDeviceNode(c.DeviceID); err != nil {
		return nil, err
	}
	devs, err := p.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", image.ErrDeviceUnavailable, err)
	}
	var dev *image.Device
	for i := range devs {
		if devs[i].ID == c.DeviceID {
			dev = &devs[i]
			break
		}
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: device %q not found", image.ErrDeviceUnavailable, c.DeviceID)
	}
	caps := append([]image.DeviceCap{}, dev.Caps...)
	sortCaps(caps, c.Width, c.Height)
	best := caps[0]
	p.log.Debug("selected caps", zap.String("device", dev.ID), zap.Int("width", best.Width), zap.Int("height", best.Height), zap.Int("framerate", best.Framerate))

	return image.StartProcess(ctx, image.ProcessSpec{
		DeviceID:    c.DeviceID,
		Name:        "gst-launch-1.0",
		Args:        func(dir string) []string { return launchArgs(c.DeviceID, best, dir) },
		FrameOp:     fsnotify.Create | fsnotify.Write,
		Size:        stdimage.Pt(best.Width, best.Height),
		InstallHint: installHint,
		Logger:      p.log,
		Verbose:     p.opts.Verbose,
	})
}

func launchArgs(deviceID string, cap image.DeviceCap, dir string) []string {
	return []string{
		"v4l2src",
		"device=" + deviceID,
		"!",
		fmt.Sprintf("video/x-raw,width=%d,height=%d", cap.Width, cap.Height),
		"!",
		"videoconvert",
		"!",
		"jpegenc",
		"!",
		"multifilesink",
		"location=" + filepath.Join(dir, "frame%05d.jpg"),
	}
}
