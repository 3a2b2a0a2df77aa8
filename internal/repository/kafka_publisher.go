package repository

import (
	"context"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	pkgkafka "FinAlloc/pkg/kafka"
)

// Topics names the destinations of pipeline events.
type Topics struct {
	Orders    string
	Trades    string
	Snapshots string
}

// KafkaPublisher implements EventPublisher on a shared producer.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topics   Topics
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topics Topics) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topics: topics}
}

// PublishOrders keys each ticket by symbol so a symbol's orders stay ordered.
func (p *KafkaPublisher) PublishOrders(ctx context.Context, tickets []models.OrderTicket) error {
	if len(tickets) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(tickets))
	for i, t := range tickets {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(t.Symbol),
			Value:   t,
			Headers: map[string]string{"client_id": t.ClientID},
		}
	}
	return p.producer.PublishBatch(ctx, p.topics.Orders, msgs)
}

type tradeEvent struct {
	RunID string `json:"run_id"`
	models.Trade
}

func (p *KafkaPublisher) PublishTrades(ctx context.Context, runID string, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(trades))
	for i, t := range trades {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(runID),
			Value:   tradeEvent{RunID: runID, Trade: t},
			Headers: map[string]string{"run_id": runID},
		}
	}
	return p.producer.PublishBatch(ctx, p.topics.Trades, msgs)
}

func (p *KafkaPublisher) PublishSnapshot(ctx context.Context, snap models.AccountSnapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	return p.producer.Publish(ctx, p.topics.Snapshots, []byte(snap.Broker), snap)
}

func (p *KafkaPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.PublishMessage(ctx, topic, payload)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrders(context.Context, []models.OrderTicket) error     { return nil }
func (NopPublisher) PublishTrades(context.Context, string, []models.Trade) error   { return nil }
func (NopPublisher) PublishSnapshot(context.Context, models.AccountSnapshot) error { return nil }
func (NopPublisher) PublishMessage(context.Context, string, interface{}) error     { return nil }
func (NopPublisher) Close() error                                                  { return nil }

var (
	_ domrepo.EventPublisher = (*KafkaPublisher)(nil)
	_ domrepo.EventPublisher = NopPublisher{}
)
