package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Dispatcher publishes events asynchronously so request handlers never block
// on the event sink. In-flight publishes are bounded by a weighted semaphore;
// when the bound is reached the event is dropped and counted in the log
// rather than queued without limit.
type Dispatcher struct {
	sink    Notifier
	logger  *slog.Logger
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps the sink with an async bound of maxInFlight publishes.
func NewDispatcher(sink Notifier, logger *slog.Logger, maxInFlight int64) *Dispatcher {
	if sink == nil {
		sink = NoopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxInFlight <= 0 {
		maxInFlight = 32
	}
	return &Dispatcher{
		sink:    sink,
		logger:  logger,
		sem:     semaphore.NewWeighted(maxInFlight),
		timeout: 5 * time.Second,
	}
}

// Publish hands the event to the sink on a background goroutine. It never
// returns a delivery error; failures are logged.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if !d.sem.TryAcquire(1) {
		d.logger.Warn("event dropped, too many in flight", "type", event.Type, "modId", event.ModID)
		return nil
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		publishCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sink.Publish(publishCtx, event); err != nil {
			d.logger.Warn("event publish failed", "type", event.Type, "modId", event.ModID, "error", err)
		}
	}()
	return nil
}

// Close waits for in-flight publishes and closes the sink.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	return d.sink.Close()
}

var _ Notifier = (*Dispatcher)(nil)
