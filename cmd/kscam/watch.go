package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krishisahay/camera-sdk-go/image"
)

var (
	watchInterval  time.Duration
	watchThreshold float64
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Inspect frames at an interval, printing smoothed confidences",
	Long: `watch captures a frame at every interval and has it inspected. The
confidence per disease is averaged over the last captures (detection.smoothing
in the config file), so a single misdetection does not stand out.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "Time between captures (default from config)")
	watchCmd.Flags().Float64VarP(&watchThreshold, "threshold", "t", 0, "Confidence threshold, 0.1 to 0.9 (default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	opts := &image.MonitorOpts{
		Logger:    logger,
		Interval:  cfg.Detection.MonitorInterval,
		Threshold: cfg.Detection.ConfidenceThreshold,
		Smoothing: cfg.Detection.Smoothing,
	}
	if cmd.Flags().Changed("interval") {
		opts.Interval = watchInterval
	}
	if cmd.Flags().Changed("threshold") {
		opts.Threshold = watchThreshold
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()
	if _, err := s.start(ctx); err != nil {
		return err
	}
	m, err := image.NewMonitor(s.inspector, opts)
	if err != nil {
		return err
	}
	defer m.Close()

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.Events:
			if ev.Err != nil {
				logger.Warn("inspection failed", zap.Error(ev.Err))
				continue
			}
			fmt.Fprintf(out, "%s %s (%v)\n", ev.Image.CapturedAt.Format(time.TimeOnly), ev.Image.Result(), ev.Inspecting.Round(time.Millisecond))
			classes := make([]string, 0, len(ev.Smoothed))
			for c := range ev.Smoothed {
				classes = append(classes, c)
			}
			sort.Strings(classes)
			for _, c := range classes {
				fmt.Fprintf(out, "  %-24s %5.1f%%\n", c, ev.Smoothed[c]*100)
			}
		}
	}
}
