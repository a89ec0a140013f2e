package domain

// Reconciled projections: staging record -> reconciled natural key.

func ProjectLocation(r StagingRecord) LocationKey {
	return LocationKey{
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		NearestLocality: r.NearestLocality,
		State:           r.State,
		County:          r.County,
		Region:          r.Region,
		OffsetDistance:  r.OffsetDistance,
		OffsetDirection: r.OffsetDirection,
		HorizontalError: r.HorizontalError,
		DepthError:      r.DepthError,
	}
}

func ProjectMagnitude(r StagingRecord) MagnitudeKey {
	return MagnitudeKey{MagType: r.MagType, MagError: r.MagError, MagNst: r.MagNst}
}

func ProjectSeismicMetrics(r StagingRecord) SeismicMetricsKey {
	return SeismicMetricsKey{Nst: r.Nst, Gap: r.Gap, Dmin: r.Dmin, RMS: r.RMS}
}

func ProjectDataSource(r StagingRecord) DataSourceKey {
	return DataSourceKey{Net: r.Net, LocationSource: r.LocationSource, MagSource: r.MagSource}
}

// Analytical projections. These read the reconciled entities an event already
// references, never the staging record.

func ProjectTime(e ReconciledEvent) TimeKey {
	return TimeKey{Time: NormalizeTime(e.Time)}
}

func ProjectLocationDim(e ReconciledEvent) LocationDimKey {
	return LocationDimKey{
		Latitude:        e.Location.Latitude,
		Longitude:       e.Location.Longitude,
		NearestLocality: e.Location.NearestLocality,
		State:           e.Location.State,
		County:          e.Location.County,
		Region:          e.Location.Region,
	}
}

func ProjectMagnitudeType(e ReconciledEvent) MagnitudeTypeKey {
	return MagnitudeTypeKey{MagType: e.MagnitudeInfo.MagType}
}

func ProjectDataSourceDim(e ReconciledEvent) DataSourceDimKey {
	return DataSourceDimKey{
		Net:            e.DataSource.Net,
		LocationSource: e.DataSource.LocationSource,
		MagSource:      e.DataSource.MagSource,
	}
}

func ProjectStatus(e ReconciledEvent) StatusKey {
	return StatusKey{Status: e.Status, Type: e.Type}
}
