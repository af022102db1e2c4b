package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// runIngress serves the request-reply ingestion endpoint. Each request is
// one UTF-8 frame holding an IRI candidate; each request gets exactly one
// reply frame. Cancellation closes the bound socket; any other error is
// logged and the loop keeps serving.
func (w *Writer) runIngress(ctx context.Context) error {
	sock := zmq4.NewRep(ctx)
	defer sock.Close()

	endpoint := fmt.Sprintf("tcp://%s:%d", w.cfg.ListenIP, w.cfg.ListenPort)
	if err := sock.Listen(endpoint); err != nil {
		return fmt.Errorf("failed to bind %s: %w", endpoint, err)
	}
	w.log.Info().Str("endpoint", endpoint).Msg("ingress listening")

	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("ingress receive failed")
			continue
		}

		var candidate string
		if len(msg.Frames) > 0 {
			candidate = string(msg.Frames[0])
		}

		reply := replyOK
		switch err := w.AcceptIRI(candidate); {
		case errors.Is(err, ErrInvalidIRI):
			reply = replyInvalidIRI
			w.log.Debug().Str("candidate", candidate).Msg("rejected invalid IRI")
		case errors.Is(err, ErrQueueFull):
			reply = replyQueueFull
			w.log.Warn().Msg("IRI queue full, rejecting")
		}

		if err := sock.Send(zmq4.NewMsgString(reply)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("ingress reply failed")
		}
	}
}
