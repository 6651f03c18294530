package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available cameras",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, err := newPlatform()
		if err != nil {
			return err
		}
		devs, err := platform.ListDevices(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing devices: %v", err)
		}
		if len(devs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no camera found")
			return nil
		}
		for _, dev := range devs {
			caps := ""
			if len(dev.Caps) > 0 {
				l := []string{}
				for _, c := range dev.Caps {
					l = append(l, fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate))
				}
				caps = fmt.Sprintf(" (caps: %s)", strings.Join(l, " "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s%s\n", dev.ID, dev.Label(), caps)
		}
		return nil
	},
}
