package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/krishisahay/camera-sdk-go/detect"
	"github.com/krishisahay/camera-sdk-go/image"
	"github.com/krishisahay/camera-sdk-go/image/imagetest"
)

var (
	cameraA = image.Device{ID: "/dev/video0", Name: "Integrated Camera"}
	cameraB = image.Device{ID: "/dev/video2", Name: "USB Field Camera"}
)

const leafBlight = `{"success": true, "detection_count": 1, "detections": [{"class_name": "Leaf Blight", "confidence": 0.87, "severity": "moderate"}], "processing_time": 0.3}`

type fixture struct {
	platform *imagetest.Platform
	ctl      *image.Controller
	srv      *Server
	upstream *httptest.Server
	requests chan string // Confidence thresholds received upstream.
}

func newFixture(t *testing.T, status int, body string) *fixture {
	f := &fixture{requests: make(chan string, 10)}
	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests <- r.FormValue("confidence_threshold")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(f.upstream.Close)

	f.platform = imagetest.NewPlatform(cameraA, cameraB)
	f.ctl = image.NewController(f.platform, nil)
	t.Cleanup(f.ctl.Stop)
	client := detect.NewClient(&detect.ClientOpts{BaseURL: f.upstream.URL, Auth: detect.Bearer("test-token")})
	f.srv = New(f.ctl, image.NewInspector(f.ctl, nil, client, nil), &Opts{PreviewInterval: 5 * time.Millisecond})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, v any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestCameras(t *testing.T) {
	f := newFixture(t, 200, leafBlight)
	var resp struct {
		Cameras []cameraJSON `json:"cameras"`
	}
	assert.Equal(t, 200, f.do(t, "GET", "/api/cameras", "", &resp))
	assert.Equal(t, []cameraJSON{
		{ID: "/dev/video0", Label: "Integrated Camera"},
		{ID: "/dev/video2", Label: "USB Field Camera"},
	}, resp.Cameras)

	f.platform.FailList(image.ErrPermissionDenied)
	assert.Equal(t, 200, f.do(t, "GET", "/api/cameras", "", &resp))
	assert.NotNil(t, resp.Cameras)
	assert.Empty(t, resp.Cameras)
}

func TestStartStopStatus(t *testing.T) {
	f := newFixture(t, 200, leafBlight)

	var st StatusResponse
	assert.Equal(t, 200, f.do(t, "GET", "/api/camera/status", "", &st))
	assert.Equal(t, "idle", st.State)

	assert.Equal(t, 200, f.do(t, "POST", "/api/camera/start", `{"device_id": "/dev/video2"}`, &st))
	assert.Equal(t, "active", st.State)
	assert.Equal(t, cameraB.ID, st.DeviceID)
	assert.NotNil(t, st.StartedAt)
	assert.Equal(t, 1, f.platform.LiveTracks())

	// Without a device, the first camera is started.
	assert.Equal(t, 200, f.do(t, "POST", "/api/camera/start", "", &st))
	assert.Equal(t, cameraA.ID, st.DeviceID)
	assert.Equal(t, 1, f.platform.LiveTracks())

	assert.Equal(t, 200, f.do(t, "POST", "/api/camera/stop", "", &st))
	assert.Equal(t, "idle", st.State)
	assert.Empty(t, st.DeviceID)
	assert.Equal(t, 0, f.platform.LiveTracks())
}

func TestStartErrors(t *testing.T) {
	f := newFixture(t, 200, leafBlight)
	f.platform.FailDevice(cameraA.ID, image.ErrPermissionDenied)

	var st StatusResponse
	assert.Equal(t, 403, f.do(t, "POST", "/api/camera/start", `{"device_id": "/dev/video0"}`, &st))
	assert.Equal(t, "error", st.State)
	assert.Contains(t, st.Error, "could not start camera")

	assert.Equal(t, 503, f.do(t, "POST", "/api/camera/start", `{"device_id": "/dev/video9"}`, &st))
	assert.Equal(t, "error", st.State)

	assert.Equal(t, 400, f.do(t, "POST", "/api/camera/start", `{"device_id":`, nil))

	empty := New(image.NewController(imagetest.NewPlatform(), nil), nil, nil)
	req := httptest.NewRequest("POST", "/api/camera/start", nil)
	resp, err := empty.App().Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

func TestCapture(t *testing.T) {
	f := newFixture(t, 200, leafBlight)
	_, err := f.ctl.Start(context.Background(), cameraB.ID)
	require.NoError(t, err)

	var resp CaptureResponse
	assert.Equal(t, 200, f.do(t, "POST", "/api/capture", `{"confidence_threshold": 0.4}`, &resp))
	assert.Equal(t, "0.4", <-f.requests)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, cameraB.ID, resp.DeviceID)
	assert.True(t, strings.HasPrefix(resp.DataURL, "data:image/jpeg;base64,"))
	require.NotNil(t, resp.Result)
	assert.Equal(t, 1, resp.Result.DetectionCount)
	require.Len(t, resp.Cards, 1)
	assert.Equal(t, "Leaf Blight", resp.Cards[0].Title)
	assert.Equal(t, "87%", resp.Cards[0].Confidence)
	assert.Equal(t, "moderate", resp.Cards[0].Severity)
	assert.Empty(t, resp.Error)

	// Default threshold, clamped threshold.
	assert.Equal(t, 200, f.do(t, "POST", "/api/capture", "", &resp))
	assert.Equal(t, "0.25", <-f.requests)
	assert.Equal(t, 200, f.do(t, "POST", "/api/capture", `{"confidence_threshold": 5}`, &resp))
	assert.Equal(t, "0.9", <-f.requests)
}

func TestCaptureErrors(t *testing.T) {
	f := newFixture(t, 500, `{"detail": "model not loaded"}`)

	var body map[string]any
	assert.Equal(t, 400, f.do(t, "POST", "/api/capture", "", &body))
	assert.Contains(t, body["error"], "capture")
	assert.Len(t, f.requests, 0)

	_, err := f.ctl.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)

	var resp CaptureResponse
	assert.Equal(t, 502, f.do(t, "POST", "/api/capture", "", &resp))
	<-f.requests
	assert.NotEmpty(t, resp.DataURL, "the captured image is returned with the error")
	assert.Nil(t, resp.Result)
	assert.NotNil(t, resp.Cards)
	assert.Empty(t, resp.Cards)
	assert.Contains(t, resp.Error, "model not loaded")
}

func TestCaptureUnsuccessful(t *testing.T) {
	f := newFixture(t, 200, `{"success": false, "detection_count": 0, "detections": []}`)
	_, err := f.ctl.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)

	var resp CaptureResponse
	assert.Equal(t, 200, f.do(t, "POST", "/api/capture", "", &resp))
	<-f.requests
	require.NotNil(t, resp.Result)
	assert.False(t, resp.Result.Success)
	assert.NotNil(t, resp.Cards)
	assert.Empty(t, resp.Cards)
	assert.Empty(t, resp.Error)
}

func TestPreviewSurface(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() {
		goleak.VerifyNone(t, opt,
			goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
			goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		)
	})
	f := newFixture(t, 200, leafBlight)
	p := f.srv.Preview()

	_, err := f.ctl.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)

	// A viewer makes the surface ready and receives frames.
	v := &viewer{send: make(chan []byte, 1)}
	p.register(v)
	assert.Equal(t, 1, p.Viewers())
	select {
	case frame := <-v.send:
		assert.Equal(t, []byte{0xff, 0xd8}, frame[:2])
	case <-time.After(5 * time.Second):
		t.Fatalf("no preview frame")
	}

	// Switching cameras re-attaches the preview.
	s, err := f.ctl.Start(context.Background(), cameraB.ID)
	require.NoError(t, err)
	p.mu.Lock()
	attached := p.stream
	p.mu.Unlock()
	assert.Equal(t, s.Stream(), attached)

	// Stop detaches.
	f.ctl.Stop()
	p.mu.Lock()
	attached = p.stream
	p.mu.Unlock()
	assert.Nil(t, attached)

	p.unregister(v)
	assert.Equal(t, 0, p.Viewers())
	_, ok := <-v.send
	for ok {
		_, ok = <-v.send
	}

	// Without viewers, a new stream is not attached.
	_, err = f.ctl.Start(context.Background(), cameraA.ID)
	require.NoError(t, err)
	p.mu.Lock()
	attached = p.stream
	p.mu.Unlock()
	assert.Nil(t, attached)
}

func TestPreviewRequiresUpgrade(t *testing.T) {
	f := newFixture(t, 200, leafBlight)
	req := httptest.NewRequest("GET", "/ws/preview", nil)
	resp, err := f.srv.App().Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
