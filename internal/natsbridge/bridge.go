// Package natsbridge provides an optional NATS ingestion path for
// producers that already speak NATS instead of the request-reply socket.
package natsbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// AcceptFunc validates and enqueues one IRI candidate. It reports the
// same accept/reject outcomes as the request-reply ingress.
type AcceptFunc func(candidate string) error

// Bridge subscribes to a subject and feeds each message body through the
// writer's accept path. There is no reply channel on a broadcast subject,
// so rejected candidates are only counted and logged.
type Bridge struct {
	nc      *nats.Conn
	logger  zerolog.Logger
	subject string
	accept  AcceptFunc
}

// NewBridge connects to NATS and prepares a bridge for the given subject.
func NewBridge(natsURL, subject string, accept AcceptFunc, logger zerolog.Logger) (*Bridge, error) {
	log := logger.With().Str("component", "natsbridge").Logger()

	nc, err := nats.Connect(natsURL,
		nats.Name("podping-hivewriter"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Bridge{
		nc:      nc,
		logger:  log,
		subject: subject,
		accept:  accept,
	}, nil
}

// Run consumes the subject until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		candidate := string(msg.Data)
		if err := b.accept(candidate); err != nil {
			b.logger.Warn().Err(err).Str("candidate", candidate).Msg("rejected IRI from nats")
			return
		}
		b.logger.Debug().Str("iri", candidate).Msg("accepted IRI from nats")
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	b.logger.Info().Str("subject", b.subject).Msg("nats bridge subscribed")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.logger.Error().Err(err).Msg("failed to unsubscribe")
	}
	return ctx.Err()
}

// Close closes the NATS connection without draining it.
func (b *Bridge) Close() {
	if b.nc != nil {
		b.nc.Close()
		b.logger.Info().Msg("nats bridge closed")
	}
}

// Healthy reports whether the NATS connection is up.
func (b *Bridge) Healthy() bool {
	return b.nc != nil && b.nc.IsConnected()
}
