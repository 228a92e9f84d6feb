package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"chatrelay/internal/config"
	"chatrelay/internal/model"
)

// StartKafka consumes envelopes from a topic. The message key, when set,
// overrides the envelope platform.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			env, err := kafkaEnvelope(m)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka envelope rejected", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, env, logger)
		}
	}()
}

func kafkaEnvelope(m kafka.Message) (Envelope, error) {
	env, err := DecodeEnvelope(m.Value)
	if err != nil {
		return Envelope{}, err
	}
	if len(m.Key) > 0 {
		if p, ok := model.ParsePlatform(string(m.Key)); ok {
			env.Platform = string(p)
		}
	}
	env.Source = "kafka"
	if !m.Time.IsZero() {
		env.ReceivedAt = m.Time
	}
	return env, nil
}
