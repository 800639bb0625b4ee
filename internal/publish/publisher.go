// Package publish sends slope rankings to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"stock-trend-lab/internal/domain"
)

// SlopePublisher publishes the ranked slopes of one aggregation.
type SlopePublisher interface {
	PublishSlopes(ctx context.Context, asOf time.Time, slopes []domain.TrendSlope) error
	Close() error
}

// SlopeMessage is the JSON value of one published slope.
type SlopeMessage struct {
	Kind        string   `json:"kind"`
	Label       string   `json:"label"`
	Rank        int      `json:"rank"` // 1-based within kind, 0 when absent
	Slope       *float64 `json:"slope"`
	WindowSize  int      `json:"window_size"`
	SampleCount int      `json:"sample_count"`
	AsOf        string   `json:"as_of"`
}

// MessageKey returns the partition key of a slope: "<kind>:<label>".
func MessageKey(s domain.TrendSlope) string {
	return s.Kind.String() + ":" + s.Label
}

// NewSlopeMessages converts ranked slopes to messages.
func NewSlopeMessages(asOf time.Time, slopes []domain.TrendSlope) []SlopeMessage {
	ranks := make(map[domain.GroupKind]int)
	out := make([]SlopeMessage, 0, len(slopes))
	for _, s := range slopes {
		m := SlopeMessage{
			Kind:        s.Kind.String(),
			Label:       s.Label,
			Slope:       s.Slope,
			WindowSize:  s.WindowSize,
			SampleCount: s.SampleCount,
			AsOf:        domain.FormatDate(asOf),
		}
		if s.HasSlope() {
			ranks[s.Kind]++
			m.Rank = ranks[s.Kind]
		}
		out = append(out, m)
	}
	return out
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configures a KafkaPublisher.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	MaxAttempts  int
	Logger       *zerolog.Logger
}

// KafkaPublisher writes one message per slope to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher with a synchronous kafka-go writer
// hashing messages by key.
func NewKafkaPublisher(opts KafkaOptions) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  opts.MaxAttempts,
		WriteTimeout: opts.WriteTimeout,
		BatchTimeout: 100 * time.Millisecond,
	}
	return newKafkaPublisher(w, opts.Topic, opts.Logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *zerolog.Logger) *KafkaPublisher {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "publish").Str("topic", topic).Logger()
	}
	return &KafkaPublisher{writer: w, topic: topic, logger: l}
}

// PublishSlopes writes every slope, present or absent, in one batch.
func (p *KafkaPublisher) PublishSlopes(ctx context.Context, asOf time.Time, slopes []domain.TrendSlope) error {
	if len(slopes) == 0 {
		return nil
	}

	now := time.Now()
	msgs := make([]kafka.Message, 0, len(slopes))
	for i, m := range NewSlopeMessages(asOf, slopes) {
		v, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal slope %s: %w", MessageKey(slopes[i]), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(MessageKey(slopes[i])),
			Value: v,
			Time:  now,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d slopes to %s: %w", len(msgs), p.topic, err)
	}
	p.logger.Info().Int("messages", len(msgs)).Str("as_of", domain.FormatDate(asOf)).Msg("slopes published")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards slopes. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishSlopes(context.Context, time.Time, []domain.TrendSlope) error { return nil }
func (Nop) Close() error                                                        { return nil }

var (
	_ SlopePublisher = (*KafkaPublisher)(nil)
	_ SlopePublisher = Nop{}
)
