package natsstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alekseev-bro/sourcing/pkg/domain"
	"github.com/alekseev-bro/sourcing/pkg/projection"
	"github.com/alekseev-bro/sourcing/pkg/qos"
)

const maxAckPending = 1000

// Use to drain all open subscriptions.
type Drainer interface {
	Drain() error
}

type SubscribeParams struct {
	DurableName string
	AggrID      string
	QoS         qos.QoS
}

type SubOption func(p *SubscribeParams)

func WithDurableName(name string) SubOption {
	return func(p *SubscribeParams) {
		p.DurableName = name
	}
}

func WithFilterByAggregateID(id domain.AggregateID) SubOption {
	return func(p *SubscribeParams) {
		p.AggrID = id.String()
	}
}

func WithQoS(q qos.QoS) SubOption {
	return func(p *SubscribeParams) {
		p.QoS = q
	}
}

// Feed subscribes the projection pipeline to committed units of work. Each
// delivery carries its own acknowledger: the pipeline's Ack maps to a
// JetStream ack and Nak to a redelivery request, closing the at-least-once
// loop.
func (s *Store[T]) Feed(ctx context.Context, pl *projection.Pipeline[T], opts ...SubOption) (Drainer, error) {
	return s.Subscribe(ctx, func(data domain.ProjectionData[T], ack projection.Acknowledger[T]) {
		pl.SubmitWith(data, ack)
	}, opts...)
}

func (s *Store[T]) Subscribe(ctx context.Context, deliver func(data domain.ProjectionData[T], ack projection.Acknowledger[T]), opts ...SubOption) (Drainer, error) {
	params := &SubscribeParams{
		DurableName: fmt.Sprintf("%s-projection", s.tname),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(params)
		}
	}

	filter := fmt.Sprintf("%s.%s", s.streamName(), aggrIDFromParams(params))

	if params.QoS.Delivery == qos.AtMostOnce {
		return s.subscribeCore(filter, deliver)
	}

	maxpend := maxAckPending
	if params.QoS.Ordering == qos.Ordered {
		maxpend = 1
	}

	cons, err := s.js.CreateOrUpdateConsumer(ctx, s.streamName(), jetstream.ConsumerConfig{
		Durable:        params.DurableName,
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxAckPending:  maxpend,
	})
	if err != nil {
		return nil, fmt.Errorf("natsstore: create consumer: %w", err)
	}

	ct, err := cons.Consume(func(msg jetstream.Msg) {
		mt, err := msg.Metadata()
		if err != nil {
			slog.Warn("redelivering", "error", err)
			msg.Nak()
			return
		}
		data, err := s.projectionData(msg.Data(), mt.Sequence.Stream)
		if err != nil {
			slog.Error("subscription decode", "error", err, "subject", msg.Subject())
			msg.Term()
			return
		}
		deliver(data, msgAcker[T]{msg: msg})
	}, jetstream.ConsumeErrHandler(func(consumeCtx jetstream.ConsumeContext, err error) {}))
	if err != nil {
		return nil, fmt.Errorf("natsstore: consume: %w", err)
	}
	slog.Info("subscription created", "subscription", params.DurableName)
	return &drainAdapter{ConsumeContext: ct}, nil
}

// subscribeCore listens on the republished subject with no ack at all; lost
// deliveries stay lost, which is what AtMostOnce asks for.
func (s *Store[T]) subscribeCore(filter string, deliver func(data domain.ProjectionData[T], ack projection.Acknowledger[T])) (Drainer, error) {
	sub, err := s.js.Conn().Subscribe("sub."+filter, func(msg *nats.Msg) {
		seq, _ := strconv.ParseUint(msg.Header.Get("Nats-Sequence"), 10, 64)
		data, err := s.projectionData(msg.Data, seq)
		if err != nil {
			slog.Error("subscription decode", "error", err, "subject", msg.Subject)
			return
		}
		deliver(data, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("natsstore: at most once subscribe: %w", err)
	}
	return sub, nil
}

func aggrIDFromParams(params *SubscribeParams) string {
	if params.AggrID != "" {
		return params.AggrID
	}
	return "*"
}

// msgAcker maps projection acknowledgements onto JetStream message acks.
type msgAcker[T any] struct {
	msg jetstream.Msg
}

func (a msgAcker[T]) Ack(data domain.ProjectionData[T]) {
	a.msg.Ack()
}

func (a msgAcker[T]) Nak(data domain.ProjectionData[T], err error) {
	slog.Warn("redelivering", "uow_id", data.UnitOfWorkID, "error", err)
	a.msg.Nak()
}

type drainAdapter struct {
	jetstream.ConsumeContext
}

func (d *drainAdapter) Drain() error {
	d.ConsumeContext.Drain()
	return nil
}
