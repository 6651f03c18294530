package image_test

import (
	"bytes"
	"context"
	"encoding/base64"
	stdimage "image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	krishisahay "github.com/krishisahay/camera-sdk-go"
	"github.com/krishisahay/camera-sdk-go/detect"
	"github.com/krishisahay/camera-sdk-go/image"
	"github.com/krishisahay/camera-sdk-go/image/imagetest"
)

const leafBlight = `{"success": true, "detection_count": 1, "detections": [{"class_name": "Leaf Blight", "confidence": 0.87, "severity": "moderate"}], "processing_time": 0.3}`

// inferenceServer is a fake inference endpoint. Requests wait for gate to be
// closed if it is set.
type inferenceServer struct {
	*httptest.Server
	hits      atomic.Int32
	threshold atomic.Value
}

func newInferenceServer(t *testing.T, status int, body string, gate chan struct{}) *inferenceServer {
	s := &inferenceServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.threshold.Store(r.FormValue("confidence_threshold"))
		if gate != nil {
			<-gate
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func newDetector(srv *inferenceServer) *detect.Client {
	return detect.NewClient(&detect.ClientOpts{BaseURL: srv.URL, Auth: detect.Bearer("test-token")})
}

func TestCaptureInactiveSession(t *testing.T) {
	p := imagetest.NewPlatform(cameraA)
	c := image.NewController(p, nil)
	capt := image.NewCapturer(nil)

	img, err := capt.Capture(nil)
	assert.Nil(t, img)
	var cerr *image.CaptureError
	require.ErrorAs(t, err, &cerr)

	s, err := c.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)
	c.Stop()

	img, err = capt.Capture(s)
	assert.Nil(t, img)
	require.ErrorAs(t, err, &cerr)
}

func TestCaptureZeroSize(t *testing.T) {
	p := imagetest.NewPlatform(cameraA)
	p.ZeroSize()
	c := image.NewController(p, nil)
	s, err := c.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)
	defer c.Stop()

	img, err := image.NewCapturer(nil).Capture(s)
	assert.Nil(t, img)
	var cerr *image.CaptureError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Reason, "size")
}

func TestCapture(t *testing.T) {
	p := imagetest.NewPlatform(cameraA)
	c := image.NewController(p, &image.ControllerOpts{Width: 320, Height: 240})
	s, err := c.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)
	defer c.Stop()

	img, err := image.NewCapturer(&image.CapturerOpts{Quality: 80}).Capture(s)
	require.NoError(t, err)
	assert.NotEmpty(t, img.ID)
	assert.Equal(t, cameraA.ID, img.DeviceID)
	assert.Equal(t, stdimage.Pt(320, 240), img.Size)
	assert.Nil(t, img.Result())
	assert.NoError(t, img.Err())

	decoded, err := jpeg.Decode(bytes.NewReader(img.JPEG))
	require.NoError(t, err)
	assert.Equal(t, stdimage.Pt(320, 240), decoded.Bounds().Size())

	url := img.DataURL()
	require.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, img.JPEG, raw)

	// A new capture is a new image.
	img2, err := image.NewCapturer(nil).Capture(s)
	require.NoError(t, err)
	assert.NotEqual(t, img.ID, img2.ID)
}

func TestInspectScenario(t *testing.T) {
	srv := newInferenceServer(t, 200, leafBlight, nil)
	p := imagetest.NewPlatform(cameraA, cameraB)
	c := image.NewController(p, nil)

	devs := c.ListCameras(context.Background())
	require.Len(t, devs, 2)
	_, err := c.Start(context.Background(), devs[1].ID)
	require.NoError(t, err)
	defer c.Stop()

	in := image.NewInspector(c, nil, newDetector(srv), nil)
	img, err := in.Inspect(context.Background(), 0.25)
	require.NoError(t, err)
	assert.Equal(t, "0.25", srv.threshold.Load())
	assert.Equal(t, cameraB.ID, img.DeviceID)

	res := img.Result()
	require.NotNil(t, res)
	assert.Equal(t, res.DetectionCount, len(res.Detections))
	cards := res.Cards()
	require.Len(t, cards, 1)
	assert.Equal(t, krishisahay.Card{Title: "Leaf Blight", Confidence: "87%", Severity: "moderate"}, cards[0])
}

func TestInspectServerError(t *testing.T) {
	srv := newInferenceServer(t, 500, `internal error`, nil)
	p := imagetest.NewPlatform(cameraA)
	c := image.NewController(p, nil)
	_, err := c.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)
	defer c.Stop()

	img, err := image.NewInspector(c, nil, newDetector(srv), nil).Inspect(context.Background(), 0.25)
	var rerr *detect.RequestError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 500, rerr.Code)

	// The image is kept for display, without a result.
	require.NotNil(t, img)
	assert.NotEmpty(t, img.JPEG)
	assert.Nil(t, img.Result())
	assert.Equal(t, err, img.Err())

	// Recoverable: resubmitting works once the endpoint is back.
	ok := newInferenceServer(t, 200, leafBlight, nil)
	img, err = image.NewInspector(c, nil, newDetector(ok), nil).Inspect(context.Background(), 0.25)
	require.NoError(t, err)
	assert.NotNil(t, img.Result())
}

func TestInspectWithoutSession(t *testing.T) {
	srv := newInferenceServer(t, 200, leafBlight, nil)
	p := imagetest.NewPlatform(cameraA)
	c := image.NewController(p, nil)
	in := image.NewInspector(c, nil, newDetector(srv), nil)

	_, err := c.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)
	c.Stop()

	img, err := in.Inspect(context.Background(), 0.25)
	assert.Nil(t, img)
	var cerr *image.CaptureError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, int32(0), srv.hits.Load(), "no detection request without a capture")
}

func TestInspectBusy(t *testing.T) {
	gate := make(chan struct{})
	srv := newInferenceServer(t, 200, leafBlight, gate)
	p := imagetest.NewPlatform(cameraA)
	c := image.NewController(p, nil)
	s, err := c.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)
	defer c.Stop()

	in := image.NewInspector(c, nil, newDetector(srv), nil)
	done := make(chan error, 1)
	go func() {
		_, err := in.Inspect(context.Background(), 0.25)
		done <- err
	}()
	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, time.Second, time.Millisecond)

	_, err = in.Inspect(context.Background(), 0.25)
	assert.ErrorIs(t, err, image.ErrBusy)
	_, err = image.NewCapturer(nil).Capture(s)
	assert.ErrorIs(t, err, image.ErrBusy)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), srv.hits.Load())

	// Guard released after the cycle.
	_, err = image.NewCapturer(nil).Capture(s)
	assert.NoError(t, err)
}

func TestStopDuringDetection(t *testing.T) {
	gate := make(chan struct{})
	srv := newInferenceServer(t, 200, leafBlight, gate)
	p := imagetest.NewPlatform(cameraA)
	c := image.NewController(p, nil)
	surf := &imagetest.Surface{}
	c.SurfaceReady(surf)
	_, err := c.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)

	in := image.NewInspector(c, nil, newDetector(srv), nil)
	type result struct {
		img *image.CapturedImage
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := in.Inspect(context.Background(), 0.25)
		done <- result{img, err}
	}()
	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, time.Second, time.Millisecond)

	c.Stop()
	assert.Equal(t, 0, p.LiveTracks(), "stop releases the stream while detection is in flight")
	close(gate)

	r := <-done
	require.NoError(t, r.err)
	require.NotNil(t, r.img.Result(), "in-flight detection still updates its image")
	assert.Nil(t, surf.Current(), "nothing is re-attached after stop")
	assert.Equal(t, 1, surf.Attaches())
}

func TestStartStopNoRequest(t *testing.T) {
	srv := newInferenceServer(t, 200, leafBlight, nil)
	p := imagetest.NewPlatform(cameraA)
	c := image.NewController(p, nil)
	_ = image.NewInspector(c, nil, newDetector(srv), nil)

	_, err := c.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)
	c.Stop()
	assert.Equal(t, int32(0), srv.hits.Load())
}
