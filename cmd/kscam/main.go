// Command kscam lists cameras, captures frames and has them inspected for
// crop diseases by the Krishi Sahay inference endpoint.
//
// Examples:
//
//	# List available cameras.
//	kscam devices
//
//	# Capture one frame from a camera and print the detections.
//	kscam snap --device /dev/video2 --threshold 0.4
//
//	# Inspect every 10s, printing smoothed confidences per disease.
//	kscam watch --interval 10s
//
//	# Serve the local camera API and websocket preview.
//	kscam serve --addr 127.0.0.1:8080
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krishisahay/camera-sdk-go/internal/config"
	"github.com/krishisahay/camera-sdk-go/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	backend    string
	deviceID   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kscam",
	Short: "Camera capture and crop disease detection for Krishi Sahay",
	Long: `kscam streams a local camera, captures still frames and submits them to the
Krishi Sahay inference endpoint, which detects crop diseases.

The endpoint is configured in the config file or with environment variables
KRISHI_API_URL and KRISHI_API_TOKEN.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath, func(c *config.Config) {
			if backend != "" {
				c.Camera.Backend = backend
			}
			if deviceID != "" {
				c.Camera.Device = deviceID
			}
		})
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger, err = logging.New(cfg.Log.Level, verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Camera backend: ffmpeg, gstreamer, imagesnap or opencv (default from config)")
	rootCmd.PersistentFlags().StringVarP(&deviceID, "device", "d", "", "Camera device ID, by default the first camera listed")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(snapCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	// Commands stop on interrupt through the command context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
