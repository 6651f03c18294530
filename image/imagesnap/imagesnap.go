// Package imagesnap implements a camera platform with the imagesnap command
// for macOS.
package imagesnap

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/krishisahay/camera-sdk-go/image"
)

const installHint = "executable not found, install with: brew install imagesnap"

// Opts has options for a new imagesnap platform.
type Opts struct {
	Logger   *zap.Logger
	Verbose  bool          // Copy imagesnap output to stdout/stderr.
	Interval time.Duration // Time between snapshots, 500ms if zero.
}

// Platform takes snapshots at an interval with imagesnap, writing them to
// temporary storage.
type Platform struct {
	opts Opts
	log  *zap.Logger
}

// Check that Platform implements interface Platform.
var _ image.Platform = (*Platform)(nil)

// New returns a new imagesnap platform.
func New(opts *Opts) *Platform {
	p := &Platform{}
	if opts != nil {
		p.opts = *opts
	}
	if p.opts.Interval <= 0 {
		p.opts.Interval = 500 * time.Millisecond
	}
	p.log = p.opts.Logger
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// ListDevices returns all image capturing devices available to imagesnap.
func (p *Platform) ListDevices(ctx context.Context) ([]image.Device, error) {
	cmd := exec.CommandContext(ctx, "imagesnap", "-l")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errors.New(installHint)
		}
		return nil, fmt.Errorf("listing devices with imagesnap -l: %v", err)
	}
	return parseDevices(string(buf)), nil
}

func parseDevices(s string) []image.Device {
	devs := []image.Device{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "=> ") {
			// Newer format, example: "=> FaceTime HD Camera (Built-in)"
			name := line[len("=> "):]
			devs = append(devs, image.Device{Name: name, ID: name})
		} else if strings.HasPrefix(line, "<") {
			// Older format, example: "<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>"
			t := strings.Split(line, "[")
			if len(t) < 2 {
				continue
			}
			name := strings.Split(t[1], "]")[0]
			devs = append(devs, image.Device{Name: name, ID: name})
		}
	}
	return devs
}

// GetStream starts imagesnap taking a snapshot every interval. imagesnap
// does not negotiate a resolution, the size of the first snapshot is used.
// A camera access prompt declined by the user makes imagesnap exit, which
// is reported as ErrDeviceUnavailable.
func (p *Platform) GetStream(ctx context.Context, c image.Constraints) (image.Stream, error) {
	if c.DeviceID == "" {
		return nil, fmt.Errorf("%w: no device", image.ErrDeviceUnavailable)
	}
	return image.StartProcess(ctx, image.ProcessSpec{
		DeviceID:    c.DeviceID,
		Name:        "imagesnap",
		Args:        func(dir string) []string { return p.args(c.DeviceID) },
		FrameOp:     fsnotify.Create | fsnotify.Write,
		InstallHint: installHint,
		Logger:      p.log,
		Verbose:     p.opts.Verbose,
	})
}

// args makes imagesnap write snapshot files into its working directory.
func (p *Platform) args(deviceID string) []string {
	return []string{
		"-d", deviceID,
		"-t", fmt.Sprintf("%.2f", p.opts.Interval.Seconds()),
	}
}
