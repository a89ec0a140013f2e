package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-warehouse-etl/internal/config"
	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
)

// ReportWriter publishes pipeline run reports to a Kafka topic.
// It implements warehouse.Recorder.
type ReportWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

var _ warehouse.Recorder = (*ReportWriter)(nil)

// NewReportWriter creates a Kafka producer for the configured report topic.
func NewReportWriter(cfg *config.Config, logger *slog.Logger) *ReportWriter {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaReportTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &ReportWriter{writer: w, logger: logger}
}

// Record serializes the report and writes it keyed by run ID.
func (w *ReportWriter) Record(ctx context.Context, report warehouse.RunReport) error {
	msg, err := serializeReport(report)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run report: %w", err)
	}
	w.logger.Debug("run report published", "run_id", report.RunID.String(), "topic", w.writer.Topic)
	return nil
}

func (w *ReportWriter) Close() error {
	return w.writer.Close()
}

// serializeReport marshals a RunReport into a Kafka message.
func serializeReport(report warehouse.RunReport) (kafkago.Message, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run report: %w", err)
	}
	outcome := "failed"
	if report.Succeeded() {
		outcome = "succeeded"
	}
	return kafkago.Message{
		Key:   []byte(report.RunID.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "outcome", Value: []byte(outcome)},
			{Key: "finished_at", Value: []byte(report.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}
