package gateway

import (
	"context"
	"time"

	"github.com/marbledao/market-layer/pkg/logger"
)

// BatchSource is the journal the dispatcher drains. Implemented by the
// storage layer.
type BatchSource interface {
	ListPendingIntentBatches(ctx context.Context, limit int) ([]Batch, error)
	MarkIntentBatchDelivered(ctx context.Context, id string) error
}

// Dispatcher is a background service that drains journaled intent
// batches through a deliverer. A batch that fails stays pending and is
// retried on the next tick.
type Dispatcher struct {
	source   BatchSource
	sink     Deliverer
	interval time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher builds a dispatcher polling at the given interval.
func NewDispatcher(source BatchSource, sink Deliverer, interval time.Duration, log *logger.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("gateway-dispatcher")
	}
	return &Dispatcher{source: source, sink: sink, interval: interval, log: log}
}

// Name implements the lifecycle service interface.
func (d *Dispatcher) Name() string { return "gateway-dispatcher" }

// Start launches the polling loop.
func (d *Dispatcher) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.drain(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the polling loop and waits for it to exit.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain delivers every currently pending batch, oldest first.
func (d *Dispatcher) drain(ctx context.Context) {
	batches, err := d.source.ListPendingIntentBatches(ctx, 50)
	if err != nil {
		d.log.WithError(err).Warn("list pending intent batches")
		return
	}
	for _, batch := range batches {
		if err := d.sink.Deliver(ctx, batch); err != nil {
			d.log.WithError(err).WithField("batch", batch.ID).Warn("deliver intent batch")
			continue
		}
		if err := d.source.MarkIntentBatchDelivered(ctx, batch.ID); err != nil {
			d.log.WithError(err).WithField("batch", batch.ID).Warn("mark intent batch delivered")
			continue
		}
		d.log.WithField("batch", batch.ID).WithField("intents", len(batch.Intents)).Debug("intent batch delivered")
	}
}
