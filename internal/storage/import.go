package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/fleetsync/playback/internal/parser"
)

// Import writes every vehicle of f through w. It stops at the first
// invalid record.
func Import(ctx context.Context, w Writer, f *parser.Fleet) (vehicles, samples int, err error) {
	for _, v := range f.Vehicles {
		profile, err := v.Profile()
		if err != nil {
			return vehicles, samples, err
		}
		pts, err := v.CoreSamples()
		if err != nil {
			return vehicles, samples, err
		}
		if err := w.UpsertVehicle(ctx, profile); err != nil {
			return vehicles, samples, fmt.Errorf("vehicle %s: %w", v.VehicleID, err)
		}
		if err := w.RecordSamples(ctx, v.VehicleID, pts); err != nil {
			return vehicles, samples, fmt.Errorf("vehicle %s samples: %w", v.VehicleID, err)
		}
		if len(v.Videos) > 0 {
			if err := w.AddVideoSegments(ctx, v.VehicleID, v.Videos); err != nil {
				return vehicles, samples, fmt.Errorf("vehicle %s videos: %w", v.VehicleID, err)
			}
		}
		vehicles++
		samples += len(pts)
	}
	if fl, ok := w.(Flusher); ok {
		if err := fl.Flush(ctx); err != nil {
			return vehicles, samples, err
		}
	}
	return vehicles, samples, nil
}

// ImportFile decodes the fleet document at path and imports it.
func ImportFile(ctx context.Context, w Writer, path string) (vehicles, samples int, err error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer fh.Close()

	f, err := parser.Decode(fh)
	if err != nil {
		return 0, 0, err
	}
	return Import(ctx, w, f)
}
