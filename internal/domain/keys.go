package domain

import "time"

// NaturalKey is the business identity of a dimension row. Values returns the
// key columns in declaration order.
type NaturalKey interface {
	Values() []any
}

// Attributed is implemented by keys whose dimension row stores derived,
// non-key columns next to the key.
type Attributed interface {
	Attributes() []any
}

// LocationKey identifies a reconciled location: the full location bag of a
// staging record.
type LocationKey struct {
	Latitude        float64
	Longitude       float64
	NearestLocality string
	State           string
	County          string
	Region          string
	OffsetDistance  float64
	OffsetDirection string
	HorizontalError float64
	DepthError      float64
}

func (k LocationKey) Values() []any {
	return []any{
		k.Latitude, k.Longitude, k.NearestLocality, k.State, k.County, k.Region,
		k.OffsetDistance, k.OffsetDirection, k.HorizontalError, k.DepthError,
	}
}

// MagnitudeKey identifies the magnitude-quality attributes of an event.
type MagnitudeKey struct {
	MagType  string
	MagError float64
	MagNst   int
}

func (k MagnitudeKey) Values() []any { return []any{k.MagType, k.MagError, k.MagNst} }

// SeismicMetricsKey identifies the network-quality attributes of an event.
type SeismicMetricsKey struct {
	Nst  int
	Gap  float64
	Dmin float64
	RMS  float64
}

func (k SeismicMetricsKey) Values() []any { return []any{k.Nst, k.Gap, k.Dmin, k.RMS} }

// DataSourceKey identifies the provenance of an event.
type DataSourceKey struct {
	Net            string
	LocationSource string
	MagSource      string
}

func (k DataSourceKey) Values() []any { return []any{k.Net, k.LocationSource, k.MagSource} }

// TimeKey identifies a row of the analytical time dimension. The timestamp is
// the whole key; the calendar parts are derived attributes.
type TimeKey struct {
	Time time.Time
}

func (k TimeKey) Values() []any { return []any{k.Time} }

// Attributes returns year, quarter, month and day in UTC.
func (k TimeKey) Attributes() []any {
	return []any{k.Year(), k.Quarter(), k.Month(), k.Day()}
}

func (k TimeKey) Year() int { return k.Time.UTC().Year() }

// Quarter returns the calendar quarter, 1 through 4.
func (k TimeKey) Quarter() int { return (k.Month()-1)/3 + 1 }

func (k TimeKey) Month() int { return int(k.Time.UTC().Month()) }

func (k TimeKey) Day() int { return k.Time.UTC().Day() }

// LocationDimKey is the analytical location: the geographic hierarchy without
// the offset and error terms of the reconciled location.
type LocationDimKey struct {
	Latitude        float64
	Longitude       float64
	NearestLocality string
	State           string
	County          string
	Region          string
}

func (k LocationDimKey) Values() []any {
	return []any{k.Latitude, k.Longitude, k.NearestLocality, k.State, k.County, k.Region}
}

// MagnitudeTypeKey identifies a magnitude scale (ml, md, mb, mww, ...).
type MagnitudeTypeKey struct {
	MagType string
}

func (k MagnitudeTypeKey) Values() []any { return []any{k.MagType} }

// DataSourceDimKey is the analytical provenance dimension.
type DataSourceDimKey struct {
	Net            string
	LocationSource string
	MagSource      string
}

func (k DataSourceDimKey) Values() []any { return []any{k.Net, k.LocationSource, k.MagSource} }

// StatusKey pairs the review status with the event classification.
type StatusKey struct {
	Status string
	Type   string
}

func (k StatusKey) Values() []any { return []any{k.Status, k.Type} }

// NormalizeTime returns t in UTC truncated to microseconds, the precision the
// relational store keeps.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}
