package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingField marks a catalogue row lacking a required attribute.
	ErrMissingField = errors.New("missing required field")

	// ErrOutsideCoverage marks a row whose state maps to no census region.
	ErrOutsideCoverage = errors.New("state outside covered regions")
)

// placeRe parses catalogue places: "<n> km <compass> of <locality>, <state>",
// e.g. "3 km SSW of Ridgecrest, CA". Distance, direction and state are
// optional in the grammar; callers decide which parts are required.
var placeRe = regexp.MustCompile(`(?i)^(?:(\d+(?:\.\d+)?)\s*km\s*)?(?:([NSEW]{1,3})\s*of\s*)?([^,]+?)(?:,\s*([A-Za-z ]+))?$`)

// Place holds the parsed components of a catalogue place string.
type Place struct {
	Distance  *float64
	Direction string
	Nearest   string
	State     string
}

// ParsePlace splits a catalogue place string into its components. A string
// that does not match the grammar is returned whole as the nearest locality.
func ParsePlace(place string) Place {
	place = strings.TrimSpace(place)
	m := placeRe.FindStringSubmatch(place)
	if m == nil {
		return Place{Nearest: place}
	}

	p := Place{
		Direction: strings.ToUpper(m[2]),
		Nearest:   strings.TrimSpace(m[3]),
		State:     strings.TrimSpace(m[4]),
	}
	if m[1] != "" {
		if d, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.Distance = &d
		}
	}
	return p
}

// ParseRawEvent decodes a collector message into a staging record. Rows with
// missing attributes, malformed values or a state outside the covered regions
// are rejected.
func ParseRawEvent(raw RawEvent) (StagingRecord, error) {
	var rec RawCatalogRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return StagingRecord{}, fmt.Errorf("parse raw event: %w", err)
	}
	return NormalizeRecord(rec)
}

// NormalizeRecord converts a raw catalogue row into a staging record.
func NormalizeRecord(rec RawCatalogRecord) (StagingRecord, error) {
	p := &fieldParser{}

	out := StagingRecord{
		EarthquakeID:   p.str("id", rec.ID),
		Time:           p.timestamp("time", rec.Time),
		Updated:        p.timestamp("updated", rec.Updated),
		Status:         p.str("status", rec.Status),
		Type:           p.str("type", rec.Type),
		Magnitude:      p.float("mag", rec.Mag),
		Depth:          p.float("depth", rec.Depth),
		Latitude:       p.float("latitude", rec.Latitude),
		Longitude:      p.float("longitude", rec.Longitude),
		County:         p.str("county", rec.County),
		MagType:        p.str("magType", rec.MagType),
		MagError:       p.float("magError", rec.MagError),
		MagNst:         p.count("magNst", rec.MagNst),
		Nst:            p.count("nst", rec.Nst),
		Gap:            p.float("gap", rec.Gap),
		Dmin:           p.float("dmin", rec.Dmin),
		RMS:            p.float("rms", rec.RMS),
		Net:            p.str("net", rec.Net),
		LocationSource: p.str("locationSource", rec.LocationSource),
		MagSource:      p.str("magSource", rec.MagSource),

		HorizontalError: p.float("horizontalError", rec.HorizontalError),
		DepthError:      p.float("depthError", rec.DepthError),
		IngestedAt:      NormalizeTime(clock.Now()),
	}
	if p.err != nil {
		return StagingRecord{}, p.err
	}

	place := ParsePlace(p.str("place", rec.Place))
	if p.err != nil {
		return StagingRecord{}, p.err
	}
	switch {
	case place.Distance == nil:
		return StagingRecord{}, fmt.Errorf("place %q: offset distance: %w", rec.Place, ErrMissingField)
	case place.Direction == "":
		return StagingRecord{}, fmt.Errorf("place %q: offset direction: %w", rec.Place, ErrMissingField)
	case place.State == "":
		return StagingRecord{}, fmt.Errorf("place %q: state: %w", rec.Place, ErrMissingField)
	}

	out.OffsetDistance = *place.Distance
	out.OffsetDirection = place.Direction
	out.NearestLocality = place.Nearest
	out.State = ExpandStateName(place.State)

	// Coverage is decided by state even when upstream already assigned a region.
	region, ok := RegionForState(out.State)
	if !ok {
		return StagingRecord{}, fmt.Errorf("state %q: %w", out.State, ErrOutsideCoverage)
	}
	out.Region = strings.TrimSpace(rec.Region)
	if out.Region == "" {
		out.Region = region
	}

	return out, nil
}

// fieldParser accumulates the first parse failure so NormalizeRecord can read
// every column in one pass.
type fieldParser struct {
	err error
}

func (p *fieldParser) fail(name string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("field %s: %w", name, err)
	}
}

func (p *fieldParser) str(name, v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		p.fail(name, ErrMissingField)
	}
	return v
}

func (p *fieldParser) float(name, v string) float64 {
	v = p.str(name, v)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(name, err)
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(name, fmt.Errorf("non-finite value %q", v))
		return 0
	}
	return f
}

// count parses a station count. The catalogue occasionally renders counts
// as floats ("12.0"). Counts must fit the INTEGER staging column.
func (p *fieldParser) count(name, v string) int {
	v = p.str(name, v)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		p.fail(name, fmt.Errorf("invalid count %q", v))
		return 0
	}
	return int(f)
}

func (p *fieldParser) timestamp(name, v string) time.Time {
	v = p.str(name, v)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		p.fail(name, err)
		return time.Time{}
	}
	return NormalizeTime(t)
}
