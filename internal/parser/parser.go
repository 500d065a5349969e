// Package parser reads and writes the fleet data document used to seed a
// repository and to export the in-memory store.
package parser

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fleetsync/playback/internal/geo"
	"github.com/fleetsync/playback/internal/util"
	"github.com/fleetsync/playback/pkg/core"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Fleet is the root document.
type Fleet struct {
	ExportedAt time.Time       `json:"exportedAt"`
	Vehicles   []VehicleRecord `json:"vehicles" validate:"dive"`
}

// VehicleRecord groups a vehicle with its samples and segment catalog.
type VehicleRecord struct {
	VehicleID     string                        `json:"vehicleId" validate:"required"`
	Name          string                        `json:"name,omitempty"`
	SpeedLimitKmh float64                       `json:"speedLimitKmh,omitempty" validate:"gte=0"`
	NextWaypoint  string                        `json:"nextWaypoint,omitempty"` // "lat,lng"
	Samples       []RawSample                   `json:"samples"`
	Videos        []core.VideoSegmentDescriptor `json:"videos,omitempty"`
}

// RawSample is a position as upstream gateways send it. Numeric fields may
// arrive as JSON numbers or as strings.
type RawSample struct {
	Timestamp      Number  `json:"timestamp"`
	Latitude       Number  `json:"latitude"`
	Longitude      Number  `json:"longitude"`
	Speed          *Number `json:"speed,omitempty"`
	Status         string  `json:"status,omitempty"`
	Address        *string `json:"address,omitempty"`
	SatelliteCount *Number `json:"satelliteCount,omitempty"`
	IsNoGPS        bool    `json:"isNoGps,omitempty"`
	HaltStatus     bool    `json:"haltStatus,omitempty"`
	IdlingStatus   bool    `json:"idlingStatus,omitempty"`
}

// Number is a float that decodes from a JSON number or a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = util.TrimQuotes(s)
	}
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", b, err)
	}
	*n = Number(f)
	return nil
}

// parseEpoch accepts whole seconds or milliseconds.
func parseEpoch(n Number) (int64, error) {
	f := float64(n)
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("timestamp %v is not a whole number", f)
	}
	ts := int64(f)
	if ts > 1e12 {
		ts /= 1000
	}
	return ts, nil
}

// ToCore validates the sample and converts it.
func (r RawSample) ToCore() (core.PositionSample, error) {
	ts, err := parseEpoch(r.Timestamp)
	if err != nil {
		return core.PositionSample{}, err
	}
	lat, lng := float64(r.Latitude), float64(r.Longitude)
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return core.PositionSample{}, fmt.Errorf("%w: %v,%v", geo.ErrInvalidCoordinates, lat, lng)
	}
	s := core.PositionSample{
		Timestamp: ts,
		Latitude:  lat,
		Longitude: lng,
		Status:    core.Status(r.Status),
		Address:   r.Address,
		Flags: core.SampleFlags{
			NoGPS:  r.IsNoGPS,
			Halted: r.HaltStatus,
			Idling: r.IdlingStatus,
		},
	}
	if r.Speed != nil {
		v := float64(*r.Speed)
		s.Speed = &v
	}
	if r.SatelliteCount != nil {
		v := int(*r.SatelliteCount)
		s.SatelliteCount = &v
	}
	s.Normalize()
	return s, nil
}

// Profile returns the vehicle's playback settings.
func (v VehicleRecord) Profile() (core.VehicleProfile, error) {
	p := core.VehicleProfile{VehicleID: v.VehicleID, Name: v.Name, SpeedLimit: v.SpeedLimitKmh}
	if v.NextWaypoint != "" {
		ll, err := geo.LatLngFromString(v.NextWaypoint)
		if err != nil {
			return p, fmt.Errorf("vehicle %s next waypoint: %w", v.VehicleID, err)
		}
		p.NextWaypoint = &ll
	}
	return p, nil
}

// CoreSamples converts every sample, failing on the first invalid one.
func (v VehicleRecord) CoreSamples() ([]core.PositionSample, error) {
	out := make([]core.PositionSample, 0, len(v.Samples))
	for i, r := range v.Samples {
		s, err := r.ToCore()
		if err != nil {
			return nil, fmt.Errorf("vehicle %s sample %d: %w", v.VehicleID, i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// RecordFromCore builds a record from stored data.
func RecordFromCore(p core.VehicleProfile, samples []core.PositionSample, videos []core.VideoSegmentDescriptor) VehicleRecord {
	rec := VehicleRecord{
		VehicleID:     p.VehicleID,
		Name:          p.Name,
		SpeedLimitKmh: p.SpeedLimit,
		Samples:       make([]RawSample, len(samples)),
		Videos:        videos,
	}
	if p.NextWaypoint != nil {
		rec.NextWaypoint = fmt.Sprintf("%.6f,%.6f", p.NextWaypoint.Lat, p.NextWaypoint.Lng)
	}
	for i, s := range samples {
		r := RawSample{
			Timestamp:    Number(s.Timestamp),
			Latitude:     Number(s.Latitude),
			Longitude:    Number(s.Longitude),
			Status:       string(s.Status),
			Address:      s.Address,
			IsNoGPS:      s.Flags.NoGPS,
			HaltStatus:   s.Flags.Halted,
			IdlingStatus: s.Flags.Idling,
		}
		if s.Speed != nil {
			v := Number(*s.Speed)
			r.Speed = &v
		}
		if s.SatelliteCount != nil {
			v := Number(*s.SatelliteCount)
			r.SatelliteCount = &v
		}
		rec.Samples[i] = r
	}
	return rec
}

// Decode reads a fleet document, gzipped or plain.
func Decode(r io.Reader) (*Fleet, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	var f Fleet
	if err := json.NewDecoder(src).Decode(&f); err != nil {
		return nil, fmt.Errorf("error decoding fleet data: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid fleet data: %w", err)
	}
	return &f, nil
}

// Encode writes f as JSON, gzipped when compress is set.
func Encode(w io.Writer, f *Fleet, compress bool) error {
	if !compress {
		return json.NewEncoder(w).Encode(f)
	}
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(f); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode fleet data: %w", err)
	}
	return gz.Close()
}
