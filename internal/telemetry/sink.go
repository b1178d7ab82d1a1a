package telemetry

import "time"

// Sink receives counters, latency observations and gauges from the pipeline.
// Implementations must be non-blocking; a sink failure never stalls trading.
type Sink interface {
	IncCounter(name string, delta uint64)
	ObserveLatency(name string, d time.Duration)
	SetGauge(name string, value float64)
}

// Nop is a Sink that discards everything
type Nop struct{}

func (Nop) IncCounter(string, uint64)               {}
func (Nop) ObserveLatency(string, time.Duration)    {}
func (Nop) SetGauge(string, float64)                {}

// Metric names emitted by the pipeline
const (
	MetricEventsIngested   = "events_ingested"
	MetricEventsDropped    = "events_dropped"
	MetricSignalsEmitted   = "signals_emitted"
	MetricStrategyErrors   = "strategy_errors"
	MetricOrdersExecuted   = "orders_executed"
	MetricOrdersRejected   = "orders_rejected"
	MetricOrdersFailed     = "orders_failed"
	MetricDispatchRetries  = "dispatch_retries"
	MetricOrderLatency     = "order_latency"
	MetricRiskEvalLatency  = "risk_eval_latency"
	MetricOpenPositions    = "open_positions"
	MetricPortfolioValue   = "portfolio_value"
)
