//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	pgadapter "github.com/couchcryptid/quake-warehouse-etl/internal/adapter/postgres"
	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0", kafka.WithClusterID("quake-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// startPostgres runs PostgreSQL, applies the warehouse schema and returns the
// store with its connection string.
func startPostgres(ctx context.Context, t *testing.T) (*pgadapter.Store, string) {
	t.Helper()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("quake"),
		postgres.WithUsername("quake"),
		postgres.WithPassword("quake"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := pgadapter.Open(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store, dsn
}

var t1 = time.Date(2024, time.March, 15, 10, 30, 0, 123456000, time.UTC)

// eq1 is the Los Angeles reference event.
func eq1() domain.StagingRecord {
	return domain.StagingRecord{
		EarthquakeID:    "eq1",
		Time:            t1,
		Updated:         t1,
		Status:          "reviewed",
		Type:            "earthquake",
		Magnitude:       4.2,
		Depth:           8.0,
		OffsetDistance:  2.0,
		OffsetDirection: "N",
		NearestLocality: "Los Angeles",
		State:           "CA",
		County:          "LA",
		Region:          "West",
		Latitude:        34.05,
		Longitude:       -118.25,
		HorizontalError: 0.5,
		DepthError:      0.3,
		MagType:         "ml",
		MagError:        0.1,
		MagNst:          12,
		Nst:             20,
		Gap:             90.0,
		Dmin:            0.1,
		RMS:             0.4,
		Net:             "ci",
		LocationSource:  "ci",
		MagSource:       "ci",
		IngestedAt:      t1,
	}
}
