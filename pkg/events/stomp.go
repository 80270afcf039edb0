package events

import (
	"context"
	"fmt"

	"github.com/go-stomp/stomp/v3"

	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/metrics"
	"github.com/oabridge/depositd/pkg/registry"
)

// Delivery is one event pulled off the queue, with its acknowledgement
// handle. Ack must be called exactly once, after the event has been
// scheduled (or rejected); until then the broker keeps the message.
type Delivery struct {
	Event *Event
	ack   func() error
}

// Ack acknowledges the underlying message.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Source yields event deliveries.
type Source interface {
	// Receive blocks for the next delivery. It returns ctx.Err() on
	// cancellation and a terminal error when the source is broken.
	Receive(ctx context.Context) (*Delivery, error)
	Close() error
}

// StompSource consumes events from a STOMP queue in client-individual
// acknowledgement mode.
type StompSource struct {
	conn *stomp.Conn
	sub  *stomp.Subscription
}

// NewStompSource connects to the broker and subscribes to the configured
// queue.
func NewStompSource(cfg registry.BrokerConfig) (*StompSource, error) {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(0, 0),
	}
	if cfg.Username != "" {
		opts = append(opts, stomp.ConnOpt.Login(cfg.Username, cfg.Password))
	}

	conn, err := stomp.Dial("tcp", cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", cfg.Address, err)
	}

	sub, err := conn.Subscribe(cfg.Queue, stomp.AckClientIndividual)
	if err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Queue, err)
	}

	log.WithComponent("events").Info().
		Str("broker", cfg.Address).
		Str("queue", cfg.Queue).
		Msg("subscribed to event queue")
	return &StompSource{conn: conn, sub: sub}, nil
}

func (s *StompSource) Receive(ctx context.Context) (*Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-s.sub.C:
			if !ok {
				return nil, fmt.Errorf("event subscription closed")
			}
			if msg.Err != nil {
				return nil, fmt.Errorf("event subscription failed: %w", msg.Err)
			}

			ev, err := ParseEvent(msg.Body)
			if err != nil {
				// Malformed bodies are rejected here and never reach
				// the filter; acknowledge so the broker drops them.
				log.WithComponent("events").Warn().Err(err).Msg("malformed event body, discarding")
				metrics.EventsTotal.WithLabelValues("malformed").Inc()
				if ackErr := s.conn.Ack(msg); ackErr != nil {
					return nil, fmt.Errorf("failed to ack malformed event: %w", ackErr)
				}
				continue
			}

			m := msg
			return &Delivery{
				Event: ev,
				ack:   func() error { return s.conn.Ack(m) },
			}, nil
		}
	}
}

func (s *StompSource) Close() error {
	if err := s.sub.Unsubscribe(); err != nil {
		log.WithComponent("events").Debug().Err(err).Msg("unsubscribe failed during close")
	}
	return s.conn.Disconnect()
}
