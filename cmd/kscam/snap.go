package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krishisahay/camera-sdk-go/image"
)

var (
	snapThreshold float64
	snapOutDir    string
	snapJSON      bool
)

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Capture one frame and detect crop diseases in it",
	Args:  cobra.NoArgs,
	RunE:  runSnap,
}

func init() {
	snapCmd.Flags().Float64VarP(&snapThreshold, "threshold", "t", 0, "Confidence threshold, 0.1 to 0.9 (default from config)")
	snapCmd.Flags().StringVarP(&snapOutDir, "out", "o", "", "If set, store the captured image and detection result in this directory")
	snapCmd.Flags().BoolVar(&snapJSON, "json", false, "Print the detection result as JSON")
}

func runSnap(cmd *cobra.Command, args []string) error {
	threshold := cfg.Detection.ConfidenceThreshold
	if cmd.Flags().Changed("threshold") {
		threshold = snapThreshold
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
	img, err := s.inspector.Inspect(ctx, threshold)
	if img != nil && snapOutDir != "" {
		if err := storeCapture(snapOutDir, img); err != nil {
			logger.Warn("storing capture", zap.Error(err))
		}
	}
	if err != nil {
		return err
	}
	if snapJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "\t")
		return enc.Encode(img.Result())
	}
	printResult(cmd.OutOrStdout(), img)
	return nil
}

func printResult(w io.Writer, img *image.CapturedImage) {
	res := img.Result()
	if !res.Success {
		fmt.Fprintf(w, "%s: detection unsuccessful\n", img.ID)
		return
	}
	cards := res.Cards()
	if len(cards) == 0 {
		fmt.Fprintf(w, "%s: no disease detected\n", img.ID)
		return
	}
	fmt.Fprintf(w, "%s: %d detection(s)\n", img.ID, len(cards))
	for _, c := range cards {
		fmt.Fprintf(w, "  %-24s %5s  %s\n", c.Title, c.Confidence, c.Severity)
	}
}

// storeCapture writes the JPEG and, if inspected, the result as JSON, both
// named after the image ID.
func storeCapture(dir string, img *image.CapturedImage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("making output dir: %v", err)
	}
	base := filepath.Join(dir, img.ID)
	if err := os.WriteFile(base+".jpg", img.JPEG, 0o644); err != nil {
		return fmt.Errorf("writing image: %v", err)
	}
	v := struct {
		ID       string `json:"id"`
		DeviceID string `json:"device_id"`
		Result   any    `json:"result,omitempty"`
		Error    string `json:"error,omitempty"`
	}{ID: img.ID, DeviceID: img.DeviceID}
	if r := img.Result(); r != nil {
		v.Result = r
	}
	if err := img.Err(); err != nil {
		v.Error = err.Error()
	}
	buf, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return fmt.Errorf("marshal result: %v", err)
	}
	return os.WriteFile(base+".json", buf, 0o644)
}
