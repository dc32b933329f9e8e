package notify

import (
	"context"
	"sync"
	"time"

	"styleforge/internal/commerce"
	"styleforge/internal/infra"
	"styleforge/internal/telemetry"
)

const dispatchTimeout = 20 * time.Second

// Dispatcher decouples write-back from the request that triggered it: the
// caller hands off a notification and returns immediately, the delivery
// runs on its own goroutine with its own deadline, and failures are logged
// rather than surfaced. Wait exists so shutdown and tests can drain
// in-flight deliveries deterministically.
type Dispatcher struct {
	notifier commerce.Notifier
	logger   infra.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(notifier commerce.Notifier, logger infra.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, logger: logger}
}

// Dispatch schedules one best-effort delivery.
func (d *Dispatcher) Dispatch(n commerce.Notification) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, n); err != nil {
			telemetry.WritebackFailures.Inc()
			d.logger.Error().
				Err(err).
				Str("order_ref", n.ExternalRef).
				Str("job_id", n.JobID).
				Msg("notify: write-back failed")
		}
	}()
}

// Wait blocks until every dispatched delivery has finished.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
