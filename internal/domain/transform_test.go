package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlace = "3 km SSW of Ridgecrest, CA"

func validRecord() RawCatalogRecord {
	return RawCatalogRecord{
		ID:              "ci40789071",
		Time:            "2024-07-01T12:34:56.789Z",
		Updated:         "2024-07-03T08:00:00.040Z",
		Latitude:        "35.6225",
		Longitude:       "-117.6705",
		Depth:           "8.02",
		Mag:             "4.2",
		MagType:         "ml",
		Nst:             "20",
		Gap:             "90",
		Dmin:            "0.1",
		RMS:             "0.4",
		Net:             "ci",
		Place:           testPlace,
		Type:            "earthquake",
		HorizontalError: "0.5",
		DepthError:      "0.3",
		MagError:        "0.1",
		MagNst:          "12",
		Status:          "reviewed",
		LocationSource:  "ci",
		MagSource:       "ci",
		County:          "Kern",
	}
}

func TestParsePlace(t *testing.T) {
	tests := []struct {
		name      string
		place     string
		distance  *float64
		direction string
		nearest   string
		state     string
	}{
		{"full place", testPlace, ptr(3.0), "SSW", "Ridgecrest", "CA"},
		{"full state name", "10 km NE of Stanley, Idaho", ptr(10.0), "NE", "Stanley", "Idaho"},
		{"lowercase direction", "7 km ene of Cobb, CA", ptr(7.0), "ENE", "Cobb", "CA"},
		{"no offset", "Ridgecrest, CA", nil, "", "Ridgecrest", "CA"},
		{"no state", "central Alaska", nil, "", "central Alaska", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePlace(tt.place)
			assert.Equal(t, tt.distance, p.Distance)
			assert.Equal(t, tt.direction, p.Direction)
			assert.Equal(t, tt.nearest, p.Nearest)
			assert.Equal(t, tt.state, p.State)
		})
	}
}

func TestExpandStateName(t *testing.T) {
	assert.Equal(t, "California", ExpandStateName("CA"))
	assert.Equal(t, "Montana", ExpandStateName(" Montana "))
	assert.Equal(t, "Puerto Rico", ExpandStateName("Puerto Rico"))
}

func TestRegionForState(t *testing.T) {
	r, ok := RegionForState("California")
	require.True(t, ok)
	assert.Equal(t, "West", r)

	r, ok = RegionForState("Oklahoma")
	require.True(t, ok)
	assert.Equal(t, "South", r)

	_, ok = RegionForState("Puerto Rico")
	assert.False(t, ok)
}

func TestNormalizeRecord(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.July, 4, 9, 0, 0, 0, time.UTC))
	SetClock(fakeClock)
	t.Cleanup(func() { SetClock(nil) })

	got, err := NormalizeRecord(validRecord())
	require.NoError(t, err)

	assert.Equal(t, "ci40789071", got.EarthquakeID)
	assert.Equal(t, time.Date(2024, time.July, 1, 12, 34, 56, 789000000, time.UTC), got.Time)
	assert.Equal(t, 4.2, got.Magnitude)
	assert.Equal(t, 8.02, got.Depth)
	assert.Equal(t, 3.0, got.OffsetDistance)
	assert.Equal(t, "SSW", got.OffsetDirection)
	assert.Equal(t, "Ridgecrest", got.NearestLocality)
	assert.Equal(t, "California", got.State)
	assert.Equal(t, "Kern", got.County)
	assert.Equal(t, "West", got.Region)
	assert.Equal(t, 12, got.MagNst)
	assert.Equal(t, 20, got.Nst)
	assert.Equal(t, fakeClock.Now(), got.IngestedAt)
}

func TestNormalizeRecord_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RawCatalogRecord)
		wantErr error
	}{
		{"missing county", func(r *RawCatalogRecord) { r.County = "" }, ErrMissingField},
		{"missing magnitude", func(r *RawCatalogRecord) { r.Mag = " " }, ErrMissingField},
		{"no offset distance", func(r *RawCatalogRecord) { r.Place = "Ridgecrest, CA" }, ErrMissingField},
		{"no state", func(r *RawCatalogRecord) { r.Place = "3 km SSW of Ridgecrest" }, ErrMissingField},
		{"territory", func(r *RawCatalogRecord) { r.Place = "5 km N of Ponce, Puerto Rico" }, ErrOutsideCoverage},
		{"territory with upstream region", func(r *RawCatalogRecord) {
			r.Place = "5 km N of Ponce, Puerto Rico"
			r.Region = "South"
		}, ErrOutsideCoverage},
		{"foreign state with upstream region", func(r *RawCatalogRecord) {
			r.Place = "12 km W of Ensenada, Baja California"
			r.Region = "West"
		}, ErrOutsideCoverage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)
			_, err := NormalizeRecord(rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestNormalizeRecord_MalformedValues(t *testing.T) {
	rec := validRecord()
	rec.Gap = "wide"
	_, err := NormalizeRecord(rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field gap")

	rec = validRecord()
	rec.Latitude = "NaN"
	_, err = NormalizeRecord(rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field latitude")

	for _, nst := range []string{"12.5", "-3", "-3.0", "2147483648", "1e12"} {
		rec = validRecord()
		rec.Nst = nst
		_, err = NormalizeRecord(rec)
		require.Error(t, err, nst)
		assert.Contains(t, err.Error(), "field nst", nst)
	}
}

func TestNormalizeRecord_FloatCounts(t *testing.T) {
	rec := validRecord()
	rec.MagNst = "12.0"
	got, err := NormalizeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, 12, got.MagNst)

	rec.MagNst = "2147483647"
	got, err = NormalizeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, got.MagNst)
}

func TestNormalizeRecord_KeepsUpstreamRegion(t *testing.T) {
	rec := validRecord()
	rec.Region = "Pacific"
	got, err := NormalizeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "Pacific", got.Region)
}

func TestParseRawEvent(t *testing.T) {
	data, err := json.Marshal(validRecord())
	require.NoError(t, err)

	got, err := ParseRawEvent(RawEvent{Value: data})
	require.NoError(t, err)
	assert.Equal(t, "ci40789071", got.EarthquakeID)

	_, err = ParseRawEvent(RawEvent{Value: []byte("{invalid json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse raw event")
}

func ptr(f float64) *float64 { return &f }
