package domain

import (
	"context"
	"time"
)

// RawCatalogRecord is the flat JSON structure produced by the collector.
// Column names follow the USGS CSV header; County and Region are attached
// upstream by the spatial enrichment step.
type RawCatalogRecord struct {
	ID              string `json:"id"`
	Time            string `json:"time"`
	Updated         string `json:"updated"`
	Latitude        string `json:"latitude"`
	Longitude       string `json:"longitude"`
	Depth           string `json:"depth"`
	Mag             string `json:"mag"`
	MagType         string `json:"magType"`
	Nst             string `json:"nst"`
	Gap             string `json:"gap"`
	Dmin            string `json:"dmin"`
	RMS             string `json:"rms"`
	Net             string `json:"net"`
	Place           string `json:"place"`
	Type            string `json:"type"`
	HorizontalError string `json:"horizontalError"`
	DepthError      string `json:"depthError"`
	MagError        string `json:"magError"`
	MagNst          string `json:"magNst"`
	Status          string `json:"status"`
	LocationSource  string `json:"locationSource"`
	MagSource       string `json:"magSource"`
	County          string `json:"county"`
	Region          string `json:"region,omitempty"`
}

// RawEvent represents an unprocessed message from the staging topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// StagingRecord is one raw event exactly as held by the staging store.
// Event IDs are not unique: the same event may be staged again on re-ingestion.
type StagingRecord struct {
	EarthquakeID string
	Time         time.Time
	Updated      time.Time
	Status       string
	Type         string
	Magnitude    float64
	Depth        float64

	// Location attributes.
	OffsetDistance  float64
	OffsetDirection string
	NearestLocality string
	State           string
	County          string
	Region          string
	Latitude        float64
	Longitude       float64
	HorizontalError float64
	DepthError      float64

	// Magnitude quality.
	MagType  string
	MagError float64
	MagNst   int

	// Network quality.
	Nst  int
	Gap  float64
	Dmin float64
	RMS  float64

	// Provenance.
	Net            string
	LocationSource string
	MagSource      string

	IngestedAt time.Time
}
