package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("ci40567890"),
		Value:     []byte(`{"id":"ci40567890"}`),
		Topic:     "usgs-earthquakes",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("usgs")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("ci40567890"), raw.Key)
	assert.JSONEq(t, `{"id":"ci40567890"}`, string(raw.Value))
	assert.Equal(t, "usgs-earthquakes", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "usgs", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestSerializeReport(t *testing.T) {
	finished := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	report := warehouse.RunReport{
		RunID:      uuid.MustParse("8d7a3c1e-4b6f-4a52-9d0e-2f1b3c4d5e6f"),
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Stages: []warehouse.StageReport{
			{Name: warehouse.StageReconciledDimensions, State: warehouse.StateSucceeded},
			{Name: warehouse.StageReconciledFacts, State: warehouse.StateFailed, Error: "boom"},
		},
	}

	msg, err := serializeReport(report)
	require.NoError(t, err)

	assert.Equal(t, []byte("8d7a3c1e-4b6f-4a52-9d0e-2f1b3c4d5e6f"), msg.Key)
	assert.Contains(t, string(msg.Value), `"state":"failed"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "outcome", msg.Headers[0].Key)
	assert.Equal(t, []byte("failed"), msg.Headers[0].Value)
	assert.Equal(t, []byte(finished.Format(time.RFC3339)), msg.Headers[1].Value)

	var decoded warehouse.RunReport
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Len(t, decoded.Stages, 2)
}
