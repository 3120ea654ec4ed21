package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner drives the Monitor at a fixed interval. It is designed with Execute
// and Interrupt functions to be compatible with oklog/run.
//
// Ticks are strictly serialized: the next tick is not considered until the
// previous one returns, and each tick runs under a context bounded by the
// check interval so a hung external command cannot pile invocations up.
type Runner struct {
	monitor  *Monitor
	interval time.Duration
	cancel   chan struct{}
}

// NewRunner creates a runner ticking at the given interval. The runner must
// be started with Execute.
func NewRunner(m *Monitor, interval time.Duration) *Runner {
	return &Runner{
		monitor:  m,
		interval: interval,
		cancel:   make(chan struct{}),
	}
}

// Execute starts the tick loop. The first tick runs shortly after startup
// (e.g. right after login), subsequent ones at the configured interval.
func (r *Runner) Execute() error {
	log.Debug().Dur("interval", r.interval).Msg("starting session monitor")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.cancel:
			return nil

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			// Failures are logged inside Tick with the right severity and
			// are never fatal to the loop.
			_ = r.monitor.Tick(ctx)
			cancel()
			ticker.Reset(r.interval)
		}
	}
}

// Interrupt stops the runner.
func (r *Runner) Interrupt(err error) {
	close(r.cancel)
	log.Debug().Err(err).Msg("interrupt for session monitor")
}
