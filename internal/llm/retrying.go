package llm

import (
	"context"
	"time"

	"github.com/agenticmail/agenticmail/internal/observability"
	"github.com/agenticmail/agenticmail/internal/retry"
)

// Retrying wraps a ModelClient with the runtime's retry budget. Only
// call setup is retried: once deltas have been handed to the caller, a
// mid-stream failure surfaces through Stream.Err.
type Retrying struct {
	inner  ModelClient
	config retry.Config
	logger *observability.Logger
}

// NewRetrying wraps inner with the given budget.
func NewRetrying(inner ModelClient, config retry.Config, logger *observability.Logger) *Retrying {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Retrying{inner: inner, config: config, logger: logger}
}

func (r *Retrying) Provider() string { return r.inner.Provider() }

func (r *Retrying) Call(ctx context.Context, req Request) (Stream, error) {
	var stream Stream
	start := time.Now()

	res := retry.Do(ctx, r.config, func() error {
		s, err := r.inner.Call(ctx, req)
		if err != nil {
			if !Transient(err) {
				return retry.Permanent(err)
			}
			r.logger.Warn(ctx, "transient model call failure, will retry",
				"provider", r.inner.Provider(),
				"model", req.Model,
				"error", err,
			)
			return err
		}
		stream = s
		return nil
	})
	if res.Err != nil {
		r.logger.Error(ctx, "model call failed",
			"provider", r.inner.Provider(),
			"model", req.Model,
			"attempts", res.Attempts,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", res.Err,
		)
		return nil, res.Err
	}
	return stream, nil
}
