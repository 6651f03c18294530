// Package ffmpeg implements a camera platform with ffmpeg and v4l2-ctl, for
// linux.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/krishisahay/camera-sdk-go/image"
)

const installHint = "executable not found, install with: sudo apt install -y ffmpeg v4l-utils"

// Opts has options for a new ffmpeg platform.
type Opts struct {
	Logger    *zap.Logger
	Verbose   bool // Copy ffmpeg output to stdout/stderr.
	Framerate int  // Frames per second requested from the camera, 10 if zero.
}

// Platform lists v4l2 devices and streams them with ffmpeg.
type Platform struct {
	opts Opts
	log  *zap.Logger
}

// Check that Platform implements interface Platform.
var _ image.Platform = (*Platform)(nil)

// New returns a new ffmpeg platform.
func New(opts *Opts) *Platform {
	p := &Platform{}
	if opts != nil {
		p.opts = *opts
	}
	if p.opts.Framerate <= 0 {
		p.opts.Framerate = 10
	}
	p.log = p.opts.Logger
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// ListDevices returns the video devices listed by v4l2-ctl.
func (p *Platform) ListDevices(ctx context.Context) ([]image.Device, error) {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--list-devices")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errors.New(installHint)
		}
		return nil, fmt.Errorf("listing devices using v4l2-ctl: %v", err)
	}
	return parseDevices(string(buf)), nil
}

// parseDevices parses the output of "v4l2-ctl --list-devices". Only
// /dev/video* nodes are kept, the Raspberry Pi codec devices are skipped.
func parseDevices(s string) []image.Device {
	var curDevice string
	devices := []image.Device{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		if curDevice == "" || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, image.Device{
			Name: fmt.Sprintf("%s (%s)", curDevice, line),
			ID:   line,
		})
	}
	return devices
}

// GetStream starts ffmpeg reading MJPEG from the device node. Frames are
// written to a temporary directory and picked up as they are completed.
func (p *Platform) GetStream(ctx context.Context, c image.Constraints) (image.Stream, error) {
	c = c.WithDefaults()
	if c.DeviceID == "" {
		return nil, fmt.Errorf("%w: no device", image.ErrDeviceUnavailable)
	}
	if err := image.CheckDeviceNode(c.DeviceID); err != nil {
		return nil, err
	}
	return image.StartProcess(ctx, image.ProcessSpec{
		DeviceID:    c.DeviceID,
		Name:        "ffmpeg",
		Args:        func(dir string) []string { return p.args(c, dir) },
		FrameOp:     fsnotify.Write,
		InstallHint: installHint,
		Logger:      p.log,
		Verbose:     p.opts.Verbose,
	})
}

func (p *Platform) args(c image.Constraints, dir string) []string {
	return []string{
		"-hide_banner",
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", p.opts.Framerate),
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-input_format", "mjpeg",
		"-i", c.DeviceID,
		"-f", "image2",
		"-c:v", "copy",
		"-bsf:v", "mjpeg2jpeg",
		"-qscale:v", "2",
		filepath.Join(dir, "frame%d.jpg"),
	}
}
