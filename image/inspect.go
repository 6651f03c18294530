package image

import (
	"context"
	"time"

	"go.uber.org/zap"

	krishisahay "github.com/krishisahay/camera-sdk-go"
)

// Detector finds crop diseases in a JPEG image. See package detect for the
// client of the platform's inference endpoint.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte, threshold float64) (*krishisahay.DetectionResult, error)
}

// Inspector captures a frame from the controller's active session and has
// it inspected by a detector.
type Inspector struct {
	ctl      *Controller
	capturer *Capturer
	detector Detector
	log      *zap.Logger
}

// NewInspector returns a new inspector. A nil capturer means a capturer with
// default options.
func NewInspector(ctl *Controller, capturer *Capturer, detector Detector, logger *zap.Logger) *Inspector {
	if capturer == nil {
		capturer = NewCapturer(&CapturerOpts{Logger: logger})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{ctl, capturer, detector, logger}
}

// Inspect captures a frame and submits it with the confidence threshold.
//
// Capture failures return a nil image. If detection fails, the captured image
// is still returned, with its error set and no result. A result the endpoint
// reported as unsuccessful is stored like any other. Stopping the camera
// while the request is in flight does not cancel it: the result is still
// stored on the returned image. A second Inspect for the same session while
// one is in flight fails with ErrBusy.
func (in *Inspector) Inspect(ctx context.Context, threshold float64) (*CapturedImage, error) {
	s := in.ctl.Session()
	if !s.Active() {
		return nil, &CaptureError{Reason: "no active camera session"}
	}
	if !s.tryBegin() {
		return nil, ErrBusy
	}
	defer s.end()

	img, err := in.capturer.capture(s)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	res, err := in.detector.Detect(ctx, img.JPEG, threshold)
	if err != nil {
		img.setErr(err)
		in.log.Warn("detection failed", zap.String("image", img.ID), zap.Error(err))
		return img, err
	}
	img.setResult(res)
	in.log.Debug("detection done", zap.String("image", img.ID), zap.Bool("success", res.Success), zap.Int("detections", res.DetectionCount), zap.Duration("elapsed", time.Since(t0)))
	return img, nil
}
