// Command slammap-replay drives the mapping pipeline over a synthetic panning scene and reports what every component built.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	replayFlags = replayOptions{}

	rootCmd = &cobra.Command{
		Use:   "slammap-replay",
		Short: "Replay a synthetic camera pan through the AR mapping pipeline",
		Long: `slammap-replay renders a textured wall seen by a camera sliding sideways,
feeds every frame to the optical flow tracker, landmark map, depth voxel grid and
persistent point map, and prints a summary of the resulting maps.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(replayFlags, cmd.OutOrStdout())
		},
	}
)

func init() {
	rootCmd.Flags().IntVar(&replayFlags.frames, "frames", 120, "Number of frames to replay")
	rootCmd.Flags().StringVar(&replayFlags.configPath, "config", "", "Path to JSON tuning file. Defaults are used when empty")
	rootCmd.Flags().Float64Var(&replayFlags.shift, "shift", 1.0, "Horizontal image motion in pixels per frame")
	rootCmd.Flags().IntVar(&replayFlags.width, "width", 320, "Luminance image width")
	rootCmd.Flags().IntVar(&replayFlags.height, "height", 240, "Luminance image height")
	rootCmd.Flags().BoolVar(&replayFlags.noDepth, "no-depth", false, "Replay without depth frames and point clouds")
	rootCmd.Flags().IntVar(&replayFlags.lostEvery, "lost-every", 0, "Drop tracking on every N-th frame. 0 keeps tracking all the time")
	rootCmd.Flags().BoolVarP(&replayFlags.verbose, "verbose", "v", false, "Human readable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
