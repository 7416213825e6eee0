package ingestion

import (
	"context"
	"fmt"
	"time"

	"GridLedger/internal/event"
	"GridLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ConnectNATS dials the NATS server and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return nc, js, nil
}

// Submission carries a parsed event into the core loop. Reply is non-nil
// for synchronous submissions (HTTP); Ack/Nak are non-nil for NATS
// deliveries and are invoked after the core accepts or rejects the event.
type Submission struct {
	Event event.Event
	Reply chan error
	Ack   func() error
	Nak   func() error
}

// RawEvent is an unparsed NATS message
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() error
	NakFunc   func() error
}

// SubjectConfig maps a NATS subject to its event type
type SubjectConfig struct {
	Subject   string
	EventType event.EventType
}

// DefaultSubjects returns the ingestion subject map.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "grid.energy.distribute", EventType: event.EventTypeEnergyDistributed},
		{Subject: "grid.energy.consume", EventType: event.EventTypeEnergyConsumed},
		{Subject: "grid.bridge.settle", EventType: event.EventTypeDebtSettled},
	}
}

// NATSSubscriber consumes ingestion subjects from JetStream and feeds
// parsed events into the core's submission channel. Messages are acked only
// after the core has accepted (or deterministically rejected) the event.
type NATSSubscriber struct {
	js       jetstream.JetStream
	subjects []SubjectConfig
	subChan  chan<- Submission
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewNATSSubscriber(
	js jetstream.JetStream,
	subjects []SubjectConfig,
	subChan chan<- Submission,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *NATSSubscriber {
	return &NATSSubscriber{
		js:       js,
		subjects: subjects,
		subChan:  subChan,
		metrics:  metrics,
		logger:   logger,
	}
}

// EnsureStreams creates the ingestion stream if missing.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "GRID_INGEST",
		Subjects:  []string{"grid.energy.>", "grid.bridge.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create ingest stream: %w", err)
	}
	return nil
}

// Run consumes all configured subjects until ctx is cancelled.
func (ns *NATSSubscriber) Run(ctx context.Context) error {
	for _, sc := range ns.subjects {
		if err := ns.consume(ctx, sc); err != nil {
			return fmt.Errorf("consume %s: %w", sc.Subject, err)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (ns *NATSSubscriber) consume(ctx context.Context, sc SubjectConfig) error {
	consumerName := fmt.Sprintf("grid-core-%s", sc.EventType.String())

	cons, err := ns.js.CreateOrUpdateConsumer(ctx, "GRID_INGEST", jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: sc.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return err
	}

	_, err = cons.Consume(func(msg jetstream.Msg) {
		if ns.metrics != nil {
			ns.metrics.IngestReceived.WithLabelValues(sc.Subject).Inc()
		}

		evt, err := ParseRawEvent(sc.EventType, msg.Data())
		if err != nil {
			// Malformed payloads can never succeed; terminate delivery.
			ns.logger.Error().Err(err).Str("subject", sc.Subject).Msg("unparseable event")
			_ = msg.Term()
			return
		}

		ns.subChan <- Submission{
			Event: evt,
			Ack:   msg.Ack,
			Nak:   msg.Nak,
		}
	})
	return err
}
