package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RunHeartbeat pings every sink each interval until ctx is cancelled. Each ping is
// bounded by timeout and a failing sink never affects the others.
func RunHeartbeat(ctx context.Context, sinks []Sink, interval, timeout time.Duration) {
	if len(sinks) == 0 || interval <= 0 {
		return
	}
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat(ctx, sinks, timeout)
		}
	}
}

func beat(ctx context.Context, sinks []Sink, timeout time.Duration) {
	var g errgroup.Group
	for _, sink := range sinks {
		g.Go(func() error {
			beatCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := sink.Heartbeat(beatCtx); err != nil {
				log.Warn().Err(err).Str("sink", sink.Name()).Msg("telemetry heartbeat failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
