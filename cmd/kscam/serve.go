package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krishisahay/camera-sdk-go/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local camera API and websocket preview",
	Long: `serve exposes the camera over HTTP:

  GET  /api/cameras        list cameras
  POST /api/camera/start   start a camera, body {"device_id": "..."}
  POST /api/camera/stop    stop the camera
  GET  /api/camera/status  camera state
  POST /api/capture        capture and inspect, body {"confidence_threshold": 0.25}
  GET  /ws/preview         live JPEG frames over a websocket`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	srv := server.New(s.ctl, s.inspector, &server.Opts{
		Logger:    logger,
		Threshold: cfg.Detection.ConfidenceThreshold,
	})

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return srv.Listen(addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("shutting down server", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
