//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkaadapter "github.com/couchcryptid/quake-warehouse-etl/internal/adapter/kafka"
	"github.com/couchcryptid/quake-warehouse-etl/internal/config"
	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
	"github.com/couchcryptid/quake-warehouse-etl/internal/ingest"
	"github.com/couchcryptid/quake-warehouse-etl/internal/observability"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
)

func loadCatalog(t *testing.T) []domain.RawCatalogRecord {
	t.Helper()
	data, err := os.ReadFile("../ingest/testdata/catalog.json")
	require.NoError(t, err)
	var rows []domain.RawCatalogRecord
	require.NoError(t, json.Unmarshal(data, &rows))
	return rows
}

func produce(ctx context.Context, t *testing.T, broker, topic string, rows []domain.RawCatalogRecord) {
	t.Helper()
	w := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: topic, Balancer: &kafkago.Hash{}}
	defer w.Close()

	msgs := make([]kafkago.Message, 0, len(rows))
	for _, row := range rows {
		value, err := json.Marshal(row)
		require.NoError(t, err)
		msgs = append(msgs, kafkago.Message{Key: []byte(row.ID), Value: value})
	}
	require.NoError(t, w.WriteMessages(ctx, msgs...))
}

// TestKafkaToWarehouse drives catalogue rows from the source topic through
// staging and both warehouse stages, then reads the published run report.
func TestKafkaToWarehouse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	store, _ := startPostgres(ctx, t)

	cfg := &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   "usgs-earthquakes",
		KafkaGroupID:       "quake-warehouse-etl-test",
		KafkaReportTopic:   "quake-etl-runs",
		BatchSize:          10,
		BatchFlushInterval: 500 * time.Millisecond,
	}
	createTopic(t, broker, cfg.KafkaSourceTopic)
	createTopic(t, broker, cfg.KafkaReportTopic)

	rows := loadCatalog(t)
	produce(ctx, t, broker, cfg.KafkaSourceTopic, rows)

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	reader := kafkaadapter.NewReader(cfg, logger)
	defer reader.Close()
	loop := ingest.New(reader, ingest.NewTransformer(), store, logger, metrics, cfg.BatchSize)

	loopCtx, stopLoop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- loop.Run(loopCtx) }()

	require.Eventually(t, func() bool {
		var n int
		_ = store.WithTx(ctx, func(ctx context.Context, tx warehouse.Tx) error {
			var err error
			n, err = tx.Count(ctx, warehouse.StagingTable)
			return err
		})
		return n == 2
	}, time.Minute, 250*time.Millisecond, "valid catalogue rows should reach staging")
	require.NoError(t, loop.CheckReadiness(ctx))

	stopLoop()
	require.NoError(t, <-done)

	writer := kafkaadapter.NewReportWriter(cfg, logger)
	defer writer.Close()

	p := warehouse.New(store, logger, metrics, warehouse.WithRecorder(writer))
	report, err := p.Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Succeeded())

	got := counts(ctx, t, store)
	assert.Equal(t, 2, got["reconciled_earthquake"])
	assert.Equal(t, 2, got["earthquake_fact"])
	assert.Equal(t, 2, got["location"])

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     cfg.KafkaReportTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1e6,
	})
	defer consumer.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err)
	assert.Equal(t, report.RunID.String(), string(msg.Key))

	var published warehouse.RunReport
	require.NoError(t, json.Unmarshal(msg.Value, &published))
	assert.Equal(t, report.RunID, published.RunID)
	require.Len(t, published.Stages, 4)
	assert.Equal(t, warehouse.StateSucceeded, published.Stages[3].State)
	assert.Equal(t, 2, published.Stages[3].Facts.Inserted)
}
