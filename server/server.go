// Package server provides a local HTTP API for the camera: listing
// cameras, starting and stopping the stream, capturing a frame for disease
// detection, and a websocket preview of the live stream.
package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	krishisahay "github.com/krishisahay/camera-sdk-go"
	"github.com/krishisahay/camera-sdk-go/detect"
	"github.com/krishisahay/camera-sdk-go/image"
)

// Opts are options for a new Server.
type Opts struct {
	Logger *zap.Logger

	// Threshold used by captures that do not specify one,
	// krishisahay.DefaultConfidenceThreshold if zero.
	Threshold float64

	StartTimeout    time.Duration // Limit for starting a camera, 15s if zero.
	PreviewInterval time.Duration // Time between preview frames, 200ms if zero.
	PreviewQuality  int           // JPEG quality of preview frames, 60 if zero.
}

// Server is the local HTTP API.
type Server struct {
	app       *fiber.App
	ctl       *image.Controller
	in        *image.Inspector
	preview   *Preview
	log       *zap.Logger
	threshold float64
	timeout   time.Duration
}

// New returns a server controlling ctl and inspecting with in.
func New(ctl *image.Controller, in *image.Inspector, opts *Opts) *Server {
	var xopts Opts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Logger == nil {
		xopts.Logger = zap.NewNop()
	}
	if xopts.Threshold == 0 {
		xopts.Threshold = krishisahay.DefaultConfidenceThreshold
	}
	if xopts.StartTimeout <= 0 {
		xopts.StartTimeout = 15 * time.Second
	}
	if xopts.PreviewInterval <= 0 {
		xopts.PreviewInterval = 200 * time.Millisecond
	}
	if xopts.PreviewQuality <= 0 {
		xopts.PreviewQuality = 60
	}

	s := &Server{
		ctl:       ctl,
		in:        in,
		preview:   newPreview(ctl, xopts.PreviewInterval, xopts.PreviewQuality, xopts.Logger),
		log:       xopts.Logger,
		threshold: xopts.Threshold,
		timeout:   xopts.StartTimeout,
	}

	app := fiber.New(fiber.Config{
		AppName:               "Krishi Sahay Camera",
		DisableStartupMessage: true,
		BodyLimit:             1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(s.logRequest)

	api := app.Group("/api")
	api.Get("/cameras", s.handleCameras)
	api.Post("/camera/start", s.handleStart)
	api.Post("/camera/stop", s.handleStop)
	api.Get("/camera/status", s.handleStatus)
	api.Post("/capture", s.handleCapture)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/preview", websocket.New(s.preview.serveWS))

	s.app = app
	return s
}

// App returns the fiber app, eg for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Preview returns the websocket preview surface.
func (s *Server) Preview() *Preview {
	return s.preview
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.log.Info("serving camera API", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown disconnects preview viewers and stops the server. The camera is
// not stopped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.preview.Close()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequest(c *fiber.Ctx) error {
	t0 := time.Now()
	err := c.Next()
	s.log.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("elapsed", time.Since(t0)),
		zap.Error(err))
	return err
}

type cameraJSON struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (s *Server) handleCameras(c *fiber.Ctx) error {
	devs := s.ctl.ListCameras(c.UserContext())
	cameras := make([]cameraJSON, 0, len(devs))
	for _, d := range devs {
		cameras = append(cameras, cameraJSON{ID: d.ID, Label: d.Label()})
	}
	return c.JSON(fiber.Map{
		"cameras": cameras,
	})
}

// StartRequest is the body of POST /api/camera/start.
type StartRequest struct {
	DeviceID string `json:"device_id"`
}

// StatusResponse describes the controller state.
type StatusResponse struct {
	State     string     `json:"state"`
	DeviceID  string     `json:"device_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	Viewers   int        `json:"viewers"`
}

func (s *Server) status() StatusResponse {
	st, err := s.ctl.State()
	r := StatusResponse{State: st.String(), Viewers: s.preview.Viewers()}
	if err != nil {
		r.Error = err.Error()
	}
	if sess := s.ctl.Session(); sess.Active() {
		r.DeviceID = sess.DeviceID()
		t := sess.StartedAt()
		r.StartedAt = &t
	}
	return r
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body: " + err.Error(),
			})
		}
	}
	if req.DeviceID == "" {
		devs := s.ctl.ListCameras(c.UserContext())
		if len(devs) == 0 {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "no camera found",
			})
		}
		req.DeviceID = devs[0].ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.ctl.Start(ctx, req.DeviceID); err != nil {
		status := fiber.StatusServiceUnavailable
		switch {
		case errors.Is(err, image.ErrPermissionDenied):
			status = fiber.StatusForbidden
		case errors.Is(err, image.ErrStopped):
			status = fiber.StatusConflict
		}
		r := s.status()
		r.Error = err.Error()
		return c.Status(status).JSON(r)
	}
	return c.JSON(s.status())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	s.ctl.Stop()
	return c.JSON(s.status())
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// CaptureRequest is the optional body of POST /api/capture.
type CaptureRequest struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// CaptureResponse is a captured image with its detection result or error.
type CaptureResponse struct {
	ID         string                       `json:"id"`
	DeviceID   string                       `json:"device_id"`
	CapturedAt time.Time                    `json:"captured_at"`
	DataURL    string                       `json:"data_url"`
	Result     *krishisahay.DetectionResult `json:"result,omitempty"`
	Cards      []krishisahay.Card           `json:"cards"`
	Error      string                       `json:"error,omitempty"`
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	req := CaptureRequest{ConfidenceThreshold: s.threshold}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body: " + err.Error(),
			})
		}
	}
	if req.ConfidenceThreshold == 0 {
		req.ConfidenceThreshold = s.threshold
	}

	// Stopping the camera or a client disconnecting does not cancel a
	// detection in flight.
	img, err := s.in.Inspect(context.Background(), req.ConfidenceThreshold)
	if img == nil {
		var cerr *image.CaptureError
		switch {
		case errors.Is(err, image.ErrBusy):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		case errors.As(err, &cerr):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}

	resp := CaptureResponse{
		ID:         img.ID,
		DeviceID:   img.DeviceID,
		CapturedAt: img.CapturedAt,
		DataURL:    img.DataURL(),
		Result:     img.Result(),
		Cards:      img.Result().Cards(),
	}
	if resp.Cards == nil {
		resp.Cards = []krishisahay.Card{}
	}
	if err != nil {
		resp.Error = err.Error()
		status := fiber.StatusBadGateway
		var rerr *detect.RequestError
		var nerr net.Error
		if errors.As(err, &rerr) && errors.As(err, &nerr) && nerr.Timeout() {
			status = fiber.StatusGatewayTimeout
		}
		return c.Status(status).JSON(resp)
	}
	return c.JSON(resp)
}
