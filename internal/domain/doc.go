// Package domain models USGS earthquake catalogue events as they move through
// the warehouse: the flat staging record, the natural keys of every dimension,
// and the reconciled and analytical fact rows.
//
// # Data Source
//
// Events originate from the USGS FDSN event service CSV export
// (https://earthquake.usgs.gov/fdsnws/event/1/query.csv). An upstream
// collector fetches the catalogue month by month, attaches the county of the
// epicentre with a spatial join against the census county shapes, and
// publishes every row as flat JSON (all values as strings) to the staging
// topic. Acquisition and the spatial join are not part of this module.
//
// # Catalogue Conventions
//
// Place format:
//
//	"<n> km <compass> of <locality>, <state>"  →  e.g. "3 km SSW of Ridgecrest, CA"
//	Compass directions are one to three letters (N, NE, ENE, ...).
//	The state is either a two-letter abbreviation or a full name; both are
//	normalised to the full name.
//
// Records without an offset distance, an offset direction or a state are
// rejected, as are records whose state does not belong to one of the four
// census regions (Northeast, Midwest, South, West).
//
// Time format:
//
//	RFC 3339 with milliseconds, e.g. "2024-07-01T12:34:56.789Z".
//	Timestamps are normalised to UTC with microsecond precision, the
//	resolution of a PostgreSQL timestamptz, so a value compares equal
//	after a round trip through the store.
//
// # Natural Keys
//
// Every dimension is identified by a fixed tuple of attribute values. Key
// types are plain comparable structs: Go equality on a key is the tuple
// equality used by the store, including exact comparison of floating-point
// coordinates and error terms. See [NaturalKey].
package domain
