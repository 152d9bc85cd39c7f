package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"time"
)

// ErrEmptyTrack is returned when a track file contains no usable samples.
var ErrEmptyTrack = errors.New("telemetry track contains no samples")

// Track is an ordered sequence of telemetry samples covering one flight.
type Track struct {
	samples []Sample
}

// NewTrack builds a track from samples, sorting them by timestamp.
func NewTrack(samples []Sample) (*Track, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyTrack
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return &Track{samples: out}, nil
}

// LoadTrack reads a CSV flight log. The expected header is:
//
//	timestamp,latitude,longitude,altitude,gimbal_pitch,gimbal_roll,gimbal_yaw[,drone_yaw]
//
// with RFC 3339 timestamps. Rows that fail to parse are skipped; a file with
// no parsable rows is an error.
func LoadTrack(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry track: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading telemetry header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"timestamp", "latitude", "longitude", "altitude", "gimbal_pitch", "gimbal_roll", "gimbal_yaw"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("telemetry track is missing column %q", required)
		}
	}

	var samples []Sample
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading telemetry row: %w", err)
		}

		s, err := parseRow(record, col)
		if err != nil {
			continue // tolerate the occasional corrupt log line
		}
		samples = append(samples, s)
	}

	return NewTrack(samples)
}

func parseRow(record []string, col map[string]int) (Sample, error) {
	get := func(name string) (float64, error) {
		i := col[name]
		if i >= len(record) {
			return 0, fmt.Errorf("short row")
		}
		return strconv.ParseFloat(record[i], 64)
	}

	ti := col["timestamp"]
	if ti >= len(record) {
		return Sample{}, fmt.Errorf("short row")
	}
	ts, err := time.Parse(time.RFC3339Nano, record[ti])
	if err != nil {
		return Sample{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	var s Sample
	s.Timestamp = ts
	if s.Latitude, err = get("latitude"); err != nil {
		return Sample{}, err
	}
	if s.Longitude, err = get("longitude"); err != nil {
		return Sample{}, err
	}
	if s.Altitude, err = get("altitude"); err != nil {
		return Sample{}, err
	}
	if s.GimbalPitch, err = get("gimbal_pitch"); err != nil {
		return Sample{}, err
	}
	if s.GimbalRoll, err = get("gimbal_roll"); err != nil {
		return Sample{}, err
	}
	if s.GimbalYaw, err = get("gimbal_yaw"); err != nil {
		return Sample{}, err
	}
	if i, ok := col["drone_yaw"]; ok && i < len(record) && record[i] != "" {
		if yaw, err := strconv.ParseFloat(record[i], 64); err == nil {
			s.DroneYaw = &yaw
		}
	}
	return s, nil
}

// Len returns the number of samples in the track.
func (t *Track) Len() int { return len(t.samples) }

// Span returns the time covered by the track.
func (t *Track) Span() (start, end time.Time) {
	return t.samples[0].Timestamp, t.samples[len(t.samples)-1].Timestamp
}

// Samples returns the ordered samples. The returned slice must not be
// modified.
func (t *Track) Samples() []Sample { return t.samples }

// At interpolates the track at the given instant and reports the time skew
// to the nearest recorded sample. Outside the track span the nearest edge
// sample is returned and the skew reflects the distance to it.
func (t *Track) At(ts time.Time) (Sample, time.Duration) {
	n := len(t.samples)
	i := sort.Search(n, func(i int) bool {
		return !t.samples[i].Timestamp.Before(ts)
	})

	switch {
	case i == 0:
		return t.samples[0], t.samples[0].Timestamp.Sub(ts).Abs()
	case i == n:
		last := t.samples[n-1]
		return last, ts.Sub(last.Timestamp).Abs()
	}

	before, after := t.samples[i-1], t.samples[i]
	skew := min(ts.Sub(before.Timestamp).Abs(), after.Timestamp.Sub(ts).Abs())

	span := after.Timestamp.Sub(before.Timestamp).Seconds()
	if span <= 0 {
		return before, skew
	}
	f := ts.Sub(before.Timestamp).Seconds() / span

	out := Sample{
		Timestamp:   ts,
		Latitude:    lerp(before.Latitude, after.Latitude, f),
		Longitude:   lerp(before.Longitude, after.Longitude, f),
		Altitude:    lerp(before.Altitude, after.Altitude, f),
		GimbalPitch: lerp(before.GimbalPitch, after.GimbalPitch, f),
		GimbalRoll:  lerp(before.GimbalRoll, after.GimbalRoll, f),
		GimbalYaw:   lerpAngle(before.GimbalYaw, after.GimbalYaw, f),
	}
	if before.DroneYaw != nil && after.DroneYaw != nil {
		yaw := lerpAngle(*before.DroneYaw, *after.DroneYaw, f)
		out.DroneYaw = &yaw
	}
	return out, skew
}

func lerp(a, b, f float64) float64 {
	return a + (b-a)*f
}

// lerpAngle interpolates headings across the 0/360 wrap.
func lerpAngle(a, b, f float64) float64 {
	diff := math.Mod(b-a+540, 360) - 180
	return normalizeDeg(a + diff*f)
}
