package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"stablevault/internal/event"
)

// OutboundPublisher publishes committed operations to NATS for downstream
// consumers. Subjects follow vault.ledger.events.{kind}. A failed publish is
// non-fatal: the event log in Postgres remains the source of truth.
type OutboundPublisher struct {
	js    jetstream.JetStream
	input <-chan *event.Envelope
	log   zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan *event.Envelope, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:    js,
		input: input,
		log:   log,
	}
}

// Run drains the publish channel until ctx is cancelled or the channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.input:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				op.log.Warn().Err(err).Uint64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("vault.ledger.events.%s", env.Kind)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_LEDGER_EVENTS",
		Subjects:  []string{"vault.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "VAULT_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
