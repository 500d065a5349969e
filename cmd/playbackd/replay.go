package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fleetsync/playback/internal/adapter/live"
	"github.com/fleetsync/playback/internal/adapter/replay"
	"github.com/fleetsync/playback/internal/config"
	"github.com/fleetsync/playback/internal/storage"
	"github.com/fleetsync/playback/pkg/core"
)

// replayCmd prints every sample of a replay window with the status and
// marker interval playback would use. An optional STEP resamples the window
// every STEP seconds instead.
func replayCmd(ctx context.Context, out io.Writer, args []string) error {
	if len(args) != 3 && len(args) != 4 {
		return errors.New("usage: replay VEHICLE FROM TO [STEP]")
	}
	from, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	to, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}
	var step int64
	if len(args) == 4 {
		if step, err = strconv.ParseInt(args[3], 10, 64); err != nil || step <= 0 {
			return fmt.Errorf("step must be a positive number of seconds: %q", args[3])
		}
	}
	r := core.TimeRange{From: from, To: to}

	a := newApp()
	defer a.shutdown()
	if err := a.setupLogging(); err != nil {
		return err
	}
	if err := a.setupStorage(ctx); err != nil {
		return err
	}

	set, err := a.backend.FetchReplaySet(ctx, args[0], r)
	if err != nil {
		return err
	}
	return printTimeline(out, set, config.GetPlaybackConfig(), step)
}

// printTimeline writes one row per sample, or one row every step seconds
// interpolated between samples when step is positive. Historical samples
// are classified at their own timestamp so they are never OFFLINE.
func printTimeline(out io.Writer, set *core.ReplaySet, cfg config.PlaybackConfig, step int64) error {
	if err := set.Validate(); err != nil {
		return err
	}
	rows := set.Samples
	if step > 0 {
		rows = nil
		for vt := set.First(); vt <= set.Last(); vt += step {
			if s, ok := replay.Interpolate(set, vt); ok {
				rows = append(rows, s)
			}
		}
	}
	pacer := replay.NewPacer(cfg.PacketWindow, cfg.DriftThreshold)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLAT\tLNG\tSTATUS\tSPEED\tGAP\tINTERVAL")
	for _, s := range rows {
		s.Status = live.Classify(s, time.Unix(s.Timestamp, 0), cfg.OfflineAfter)
		gap := "-"
		if prev, ok := pacer.Previous(); ok {
			gap = (time.Duration(s.Timestamp-prev) * time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%s\t%.1f\t%s\t%s\n",
			time.Unix(s.Timestamp, 0).UTC().Format(time.RFC3339),
			s.Latitude, s.Longitude, s.Status, s.SpeedKmh(), gap, pacer.Interval(s.Timestamp))
	}
	return tw.Flush()
}

// importCmd loads a fleet document through the configured backend.
func importCmd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: import FILE")
	}
	a := newApp()
	defer a.shutdown()
	if err := a.setupLogging(); err != nil {
		return err
	}
	if err := a.setupStorage(ctx); err != nil {
		return err
	}
	vehicles, samples, err := storage.ImportFile(ctx, a.backend, args[0])
	if err != nil {
		return err
	}
	a.logger.Info("Import complete", "file", args[0], "vehicles", vehicles, "samples", samples)
	fmt.Printf("imported %d vehicles, %d samples\n", vehicles, samples)
	return nil
}
