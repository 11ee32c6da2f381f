// Package relay forwards the output of one generation stream to a client,
// one chunk at a time, in arrival order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/chatrelay/internal/llm"
	"github.com/gaspardpetit/chatrelay/internal/logx"
)

// Outcome classifies how a relay ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeClientGone    Outcome = "client_gone"
)

// Result summarises one relay.
type Result struct {
	Outcome Outcome
	// Fragments and Bytes count forwarded text, not the error marker.
	Fragments int
	Bytes     int
	Blocked   int
	// Err is the upstream failure rendered into the terminal marker.
	Err error
	// FirstFragment is the delay between the start of the relay and the
	// first fragment written; zero when nothing was written.
	FirstFragment time.Duration
	Duration      time.Duration
}

// ErrorMarker renders the terminal fragment sent when the upstream call fails.
func ErrorMarker(err error) string {
	return fmt.Sprintf("\n[Errore API: %s]", err.Error())
}

// Request is a single-turn relay request.
type Request struct {
	StreamID string
	// RequestID is the inbound HTTP request id, when there is one.
	RequestID string
	Prompt    string
}

// Relayer opens a generation stream per request and forwards it.
type Relayer struct {
	Generator llm.Generator
	// Timeout bounds the remote call when positive.
	Timeout time.Duration
}

// Relay opens one stream for req.Prompt and forwards it to sink. ctx is the
// client's context: once it is done, forwarding stops without a marker.
func (r *Relayer) Relay(ctx context.Context, req Request, sink Sink) Result {
	start := time.Now()
	lc := logx.Log.With().Str("stream_id", req.StreamID)
	if req.RequestID != "" {
		lc = lc.Str("request_id", req.RequestID)
	}
	log := lc.Logger()

	callCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	stream, err := r.Generator.Open(callCtx, req.Prompt)
	if err != nil {
		res := Result{}
		if ctx.Err() != nil {
			res.Outcome = OutcomeClientGone
		} else {
			res = fail(log, sink, err, res)
		}
		res.Duration = time.Since(start)
		return res
	}
	res := forward(ctx, callCtx, stream, sink, log, start)
	res.Duration = time.Since(start)
	return res
}

// Forward drains stream into sink. Text fragments are written verbatim in
// arrival order, blocked chunks are dropped, and an upstream failure is
// written as one final ErrorMarker fragment. The next chunk is not requested
// until the previous fragment has been accepted by sink. The stream is
// closed on return.
func Forward(ctx context.Context, stream llm.Stream, sink Sink) Result {
	start := time.Now()
	res := forward(ctx, ctx, stream, sink, logx.Log, start)
	res.Duration = time.Since(start)
	return res
}

func forward(clientCtx, callCtx context.Context, stream llm.Stream, sink Sink, log zerolog.Logger, start time.Time) Result {
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Msg("close stream")
		}
	}()

	var res Result
	for {
		if clientCtx.Err() != nil {
			res.Outcome = OutcomeClientGone
			return res
		}
		chunk, err := stream.Next(callCtx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				res.Outcome = OutcomeCompleted
				return res
			}
			if clientCtx.Err() != nil {
				res.Outcome = OutcomeClientGone
				return res
			}
			return fail(log, sink, err, res)
		}

		switch chunk.Kind {
		case llm.ChunkBlocked:
			res.Blocked++
			log.Warn().Str("reason", chunk.Reason).Int("fragments", res.Fragments).Msg("chunk blocked by safety filter")
			continue
		case llm.ChunkText:
			if chunk.Text == "" {
				continue
			}
			if err := sink.WriteFragment(chunk.Text); err != nil {
				log.Debug().Err(err).Msg("client write failed")
				res.Outcome = OutcomeClientGone
				return res
			}
			if res.Fragments == 0 {
				res.FirstFragment = time.Since(start)
			}
			res.Fragments++
			res.Bytes += len(chunk.Text)
		}
	}
}

func fail(log zerolog.Logger, sink Sink, err error, res Result) Result {
	log.Error().Err(err).Int("fragments", res.Fragments).Msg("upstream error")
	res.Outcome = OutcomeUpstreamError
	res.Err = err
	if werr := sink.WriteFragment(ErrorMarker(err)); werr != nil {
		log.Debug().Err(werr).Msg("write error marker")
	}
	return res
}
