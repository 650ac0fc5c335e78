package observer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/substratelabs/mnemo/stm"
)

// Coordinator keeps the short-term buffer coherent with the durable store:
// once a memory is durably written, the buffered exchanges and candidates
// that produced it are stale and must go, atomically.
type Coordinator struct {
	buffer *stm.Buffer
	logger zerolog.Logger
}

// NewCoordinator creates a Coordinator over the given buffer.
func NewCoordinator(buffer *stm.Buffer, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		buffer: buffer,
		logger: logger.With().Str("component", "coherence_coordinator").Logger(),
	}
}

// OnStoreSuccess clears the short-term buffer. The durable write has already
// succeeded, so a failed clear is logged and absorbed rather than failing the
// caller; the TTL bounds how long the stale window can live.
func (c *Coordinator) OnStoreSuccess(ctx context.Context) {
	if err := c.buffer.ClearAll(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Clearing short-term buffer failed")
		return
	}
	c.logger.Debug().Msg("Short-term buffer cleared after durable write")
}
