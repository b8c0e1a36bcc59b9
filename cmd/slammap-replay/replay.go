package main

import (
	"fmt"
	"io"

	"github.com/LdDl/slammap-go/pipeline"
	"github.com/LdDl/slammap-go/synthetic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type replayOptions struct {
	frames     int
	configPath string
	shift      float64
	width      int
	height     int
	noDepth    bool
	lostEvery  int
	verbose    bool
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func runReplay(opts replayOptions, out io.Writer) error {
	if opts.frames <= 0 {
		return errors.Errorf("frames must be positive, got %d", opts.frames)
	}
	if opts.width < 16 || opts.height < 16 {
		return errors.Errorf("image must be at least 16x16, got %dx%d", opts.width, opts.height)
	}
	if opts.lostEvery < 0 {
		return errors.Errorf("lost-every must be non-negative, got %d", opts.lostEvery)
	}

	cfg := pipeline.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := pipeline.LoadConfig(opts.configPath)
		if err != nil {
			return errors.Wrap(err, "can't load tuning")
		}
		cfg = loaded
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return errors.Wrap(err, "can't create logger")
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	mapping, err := pipeline.New(cfg, logger, registry)
	if err != nil {
		return err
	}

	scene := synthetic.NewScene(opts.width, opts.height)
	scene.ShiftPerFrame = opts.shift

	stats := pipeline.FrameStats{}
	for i := 0; i < opts.frames; i++ {
		frame := pipeline.Frame{
			Tracking:        opts.lostEvery == 0 || (i+1)%opts.lostEvery != 0,
			Image:           scene.Image(i),
			Intrinsics:      scene.Intrinsics,
			WorldFromCamera: scene.Pose(i),
		}
		if !opts.noDepth {
			frame.Depth = scene.Depth(i)
			frame.PointCloud = scene.PointCloud(i)
		}
		stats = mapping.Process(frame)
	}

	mean, std := mapping.ActiveTrackStats()
	fmt.Fprintf(out, "frames:             %d\n", stats.FrameIndex)
	fmt.Fprintf(out, "active tracks:      %d (mean %.1f, std %.1f)\n", stats.ActiveTracks, mean, std)
	fmt.Fprintf(out, "stable tracks:      %d\n", stats.Observations.StableTracks)
	fmt.Fprintf(out, "depth hit rate:     %.1f%%\n", stats.Observations.DepthHitRate)
	fmt.Fprintf(out, "metric landmarks:   %d\n", stats.MetricLandmarks)
	fmt.Fprintf(out, "bearing landmarks:  %d\n", stats.BearingLandmarks)
	fmt.Fprintf(out, "occupied voxels:    %d\n", stats.Depth.VoxelsUsed)
	fmt.Fprintf(out, "persistent points:  %d (added %d, wrapped %t)\n", stats.PersistentPoints, stats.TotalPointsAdded, mapping.PointMap().IsBufferWrapped())

	families, err := registry.Gather()
	if err != nil {
		return errors.Wrap(err, "can't gather metrics")
	}
	fmt.Fprintf(out, "metric families:    %d\n", len(families))
	return nil
}
