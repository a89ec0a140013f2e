package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("stage dropped unresolved records", "stage", "reconciled_facts", "unresolved", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "reconciled_facts", line["stage"])
	assert.InDelta(t, 2, line["unresolved"], 0)
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "text").Debug("dimension deduplicated", "table", "location")
	assert.Contains(t, buf.String(), "table=location")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.StageFailures.WithLabelValues("reconciled_facts").Inc()
	assert.InDelta(t, 1, testutil.ToFloat64(a.StageFailures.WithLabelValues("reconciled_facts")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.StageFailures.WithLabelValues("reconciled_facts")), 0)
}
