package main

import (
	"context"
	"fmt"

	"github.com/krishisahay/camera-sdk-go/detect"
	"github.com/krishisahay/camera-sdk-go/image"
	"github.com/krishisahay/camera-sdk-go/image/ffmpeg"
	"github.com/krishisahay/camera-sdk-go/image/gstreamer"
	"github.com/krishisahay/camera-sdk-go/image/imagesnap"
)

// newOpenCVPlatform is set when built with tag opencv.
var newOpenCVPlatform func() image.Platform

func newPlatform() (image.Platform, error) {
	switch cfg.Camera.Backend {
	case "ffmpeg":
		return ffmpeg.New(&ffmpeg.Opts{Logger: logger, Verbose: verbose}), nil
	case "gstreamer":
		return gstreamer.New(&gstreamer.Opts{Logger: logger, Verbose: verbose}), nil
	case "imagesnap":
		return imagesnap.New(&imagesnap.Opts{Logger: logger, Verbose: verbose}), nil
	case "opencv":
		if newOpenCVPlatform == nil {
			return nil, fmt.Errorf("backend opencv not available, build with: go build -tags opencv")
		}
		return newOpenCVPlatform(), nil
	}
	return nil, fmt.Errorf("unknown camera backend %q", cfg.Camera.Backend)
}

// session holds what the commands need to capture and inspect.
type session struct {
	ctl       *image.Controller
	capturer  *image.Capturer
	inspector *image.Inspector
	tokenFile *detect.TokenFile
}

func newSession() (*session, error) {
	platform, err := newPlatform()
	if err != nil {
		return nil, err
	}

	var auth detect.AuthFunc
	s := &session{}
	switch {
	case cfg.API.TokenFile != "":
		s.tokenFile, err = detect.WatchTokenFile(cfg.API.TokenFile, logger)
		if err != nil {
			return nil, err
		}
		auth = s.tokenFile.Auth()
	case cfg.API.Token != "":
		auth = detect.Bearer(cfg.API.Token)
	default:
		logger.Warn("no api token configured, detection requests are not authenticated")
	}
	client := detect.NewClient(&detect.ClientOpts{
		BaseURL: cfg.API.BaseURL,
		Auth:    auth,
		Timeout: cfg.API.Timeout,
		Logger:  logger,
	})

	s.ctl = image.NewController(platform, &image.ControllerOpts{
		Logger: logger,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	})
	s.capturer = image.NewCapturer(&image.CapturerOpts{Logger: logger, Quality: cfg.Camera.JPEGQuality})
	s.inspector = image.NewInspector(s.ctl, s.capturer, client, logger)
	return s, nil
}

// start starts the configured camera, or the first one listed.
func (s *session) start(ctx context.Context) (*image.Session, error) {
	id := cfg.Camera.Device
	if id == "" {
		devs := s.ctl.ListCameras(ctx)
		if len(devs) == 0 {
			return nil, fmt.Errorf("no camera found")
		}
		id = devs[0].ID
	}
	return s.ctl.Start(ctx, id)
}

func (s *session) close() {
	s.ctl.Stop()
	if s.tokenFile != nil {
		s.tokenFile.Close()
	}
}
