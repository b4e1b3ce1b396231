package ingestion

import (
	"context"
	"fmt"
	"time"

	"CoffeeFutures/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var log = observability.NewLogger("ingestion")

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// commands into the core via the commandChan. JetStream is the primary
// high-throughput ingestion surface; each subject maps to a command type.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
}

// RawCommand is the received-but-untyped command from NATS, ready for the
// shell to parse and validate before sending to the core.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to command types.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "coffee.prices.>", CommandType: "PublishPrice", ConsumerName: "settle-prices", StreamName: "COFFEE_PRICES"},
		{Subject: "coffee.deals.open.>", CommandType: "OpenDeal", ConsumerName: "settle-deal-open", StreamName: "COFFEE_DEALS"},
		{Subject: "coffee.deals.topup.>", CommandType: "TopUpMargin", ConsumerName: "settle-deal-topup", StreamName: "COFFEE_DEALS"},
		{Subject: "coffee.deals.mtm.>", CommandType: "MarkToMarket", ConsumerName: "settle-deal-mtm", StreamName: "COFFEE_DEALS"},
		{Subject: "coffee.deals.margincall.>", CommandType: "MarginCall", ConsumerName: "settle-deal-margincall", StreamName: "COFFEE_DEALS"},
		{Subject: "coffee.deals.settle.cash.>", CommandType: "SettleCash", ConsumerName: "settle-deal-cash", StreamName: "COFFEE_DEALS"},
		{Subject: "coffee.deals.settle.physical.>", CommandType: "SettlePhysical", ConsumerName: "settle-deal-physical", StreamName: "COFFEE_DEALS"},
		{Subject: "coffee.deals.cancel.>", CommandType: "CancelDeal", ConsumerName: "settle-deal-cancel", StreamName: "COFFEE_DEALS"},
		{Subject: "coffee.deals.close.>", CommandType: "CloseDeal", ConsumerName: "settle-deal-close", StreamName: "COFFEE_DEALS"},
		{Subject: "coffee.admin.initmint.>", CommandType: "InitCftMint", ConsumerName: "settle-admin-initmint", StreamName: "COFFEE_ADMIN"},
		{Subject: "coffee.admin.market.>", CommandType: "CreateMarket", ConsumerName: "settle-admin-market", StreamName: "COFFEE_ADMIN"},
		{Subject: "coffee.admin.pause.>", CommandType: "SetPaused", ConsumerName: "settle-admin-pause", StreamName: "COFFEE_ADMIN"},
		{Subject: "coffee.admin.rotate.propose.>", CommandType: "ProposeRotateOracle", ConsumerName: "settle-admin-rotate-propose", StreamName: "COFFEE_ADMIN"},
		{Subject: "coffee.admin.rotate.activate.>", CommandType: "ActivateRotateOracle", ConsumerName: "settle-admin-rotate-activate", StreamName: "COFFEE_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "COFFEE_PRICES",
			Subjects:  []string{"coffee.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "COFFEE_DEALS",
			Subjects:  []string{"coffee.deals.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "COFFEE_ADMIN",
			Subjects:  []string{"coffee.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
