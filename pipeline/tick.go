package pipeline

import (
	"context"
	"time"

	"github.com/c360/eventflow/errors"
)

// tickLoop is the signal generator: it queues a tick signal on the
// owning pipeline at a fixed interval until the context is cancelled.
// Ticks are stamped with the pipeline's id so the actor never forwards
// its own ticks back to itself. A full queue skips the tick; the next
// one covers it.
func tickLoop(ctx context.Context, originID string, interval time.Duration, send func(Event) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(NewTick(originID)); err != nil {
				if errors.Is(err, errors.ErrChannelFull) {
					continue
				}
				// The pipeline is stopping; nothing left to tick.
				return
			}
		}
	}
}
