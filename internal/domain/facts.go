package domain

import "time"

// ReconciledEarthquake is the normalized fact: one row per event ID holding
// the event-level scalars and one reference to each reconciled dimension.
type ReconciledEarthquake struct {
	EarthquakeID string
	Time         time.Time
	Updated      time.Time
	Status       string
	Type         string
	Magnitude    float64
	Depth        float64

	LocationID       int64
	MagnitudeID      int64
	SeismicMetricsID int64
	DataSourceID     int64
}

// ReconciledEvent is a reconciled fact joined to the natural keys of the
// dimension rows it references.
type ReconciledEvent struct {
	ReconciledEarthquake

	Location       LocationKey
	MagnitudeInfo  MagnitudeKey
	SeismicMetrics SeismicMetricsKey
	DataSource     DataSourceKey
}

// AnalyticalFact is a star-schema fact row: the continuous measures plus one
// reference per analytical dimension.
type AnalyticalFact struct {
	EarthquakeID string
	Magnitude    float64
	Depth        float64

	TimeID          int64
	LocationID      int64
	MagnitudeTypeID int64
	DataSourceID    int64
	StatusID        int64
}
