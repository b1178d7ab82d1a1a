package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/msg"
	"github.com/tradekit/tradeloop/internal/telemetry"
)

// Queue receives decoded market events. Enqueue blocks when the queue is
// full: the ingestor applies backpressure rather than dropping market data.
type Queue interface {
	Enqueue(ctx context.Context, event model.MarketEvent) error
}

// Ingestor drives one feed source: it decodes inbound messages into market
// events and publishes them to the bounded queue
type Ingestor struct {
	source Source
	queue  Queue
	sink   telemetry.Sink
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewIngestor creates an ingestor for one source
func NewIngestor(source Source, queue Queue, sink telemetry.Sink, logger *zap.Logger) *Ingestor {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Ingestor{
		source: source,
		queue:  queue,
		sink:   sink,
		logger: logger,
	}
}

// Start launches the feed-read loop on its own goroutine
func (i *Ingestor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.done = make(chan struct{})

	go func() {
		defer close(i.done)
		err := i.source.Run(runCtx, i.handle)
		if err != nil && err != context.Canceled && err != ErrFeedClosed {
			i.logger.Error("feed source stopped", zap.Error(err))
		}
	}()
}

// Stop drains in-flight decode work and closes the connection before
// returning
func (i *Ingestor) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
	if i.done != nil {
		<-i.done
	}
	if err := i.source.Close(); err != nil {
		i.logger.Warn("failed to close feed source", zap.Error(err))
	}
}

// handle decodes one raw message and enqueues the event. A decode failure
// drops that single message and the stream continues.
func (i *Ingestor) handle(ctx context.Context, payload []byte) error {
	event, err := decodeTick(payload)
	if err != nil {
		i.sink.IncCounter(telemetry.MetricEventsDropped, 1)
		i.logger.Warn("failed to decode tick, dropping", zap.Error(err))
		return nil
	}

	if err := i.queue.Enqueue(ctx, event); err != nil {
		return err
	}
	i.sink.IncCounter(telemetry.MetricEventsIngested, 1)
	return nil
}

func decodeTick(payload []byte) (model.MarketEvent, error) {
	var tick msg.TickMsg
	if err := json.Unmarshal(payload, &tick); err != nil {
		return model.MarketEvent{}, fmt.Errorf("failed to unmarshal tick: %w", err)
	}
	if tick.Symbol == "" {
		return model.MarketEvent{}, fmt.Errorf("tick has no symbol")
	}

	fields := make(map[string]float64, len(tick.Fields)+2)
	for name, value := range tick.Fields {
		fields[name] = value
	}
	fields["price"] = tick.Price
	if tick.Volume != 0 {
		fields["volume"] = tick.Volume
	}

	ts := time.Now().UTC()
	if tick.TsUnixMillis > 0 {
		ts = time.UnixMilli(tick.TsUnixMillis).UTC()
	}

	return model.MarketEvent{
		Symbol:    tick.Symbol,
		Timestamp: ts,
		Fields:    fields,
	}, nil
}
