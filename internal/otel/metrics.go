package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	jobOpsCounter       metric.Int64Counter
	chainPhasesCounter  metric.Int64Counter
	chainPhaseDuration  metric.Float64Histogram
	stageCounter        metric.Int64Counter
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		jobOpsCounter, err = m.Int64Counter("warpengine_job_operations_total", metric.WithDescription("Total job operations (submit, claim, complete, fail, cancel)"))
		if err != nil {
			return
		}
		chainPhasesCounter, err = m.Int64Counter("warpengine_chain_phases_total", metric.WithDescription("Total completion-chain phases executed"))
		if err != nil {
			return
		}
		chainPhaseDuration, err = m.Float64Histogram("warpengine_chain_phase_duration_seconds", metric.WithDescription("Completion-chain phase duration in seconds"))
		if err != nil {
			return
		}
		stageCounter, err = m.Int64Counter("warpengine_stage_transitions_total", metric.WithDescription("Total staging transitions recorded"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("warpengine_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("warpengine_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordJobOp records a job operation (submit, claim, complete, fail, cancel).
func RecordJobOp(ctx context.Context, op, command, status string) {
	if jobOpsCounter == nil {
		return
	}
	jobOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrCommand.String(command),
		AttrStatus.String(status),
	))
}

// RecordChainPhase records one completion-chain phase and its duration.
func RecordChainPhase(ctx context.Context, agent, phase string, duration time.Duration) {
	if chainPhasesCounter != nil {
		chainPhasesCounter.Add(ctx, 1, metric.WithAttributes(AttrAgent.String(agent), AttrPhase.String(phase)))
	}
	if chainPhaseDuration != nil {
		chainPhaseDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrAgent.String(agent), AttrPhase.String(phase)))
	}
}

// RecordStageTransition records one staging transition by tag.
func RecordStageTransition(ctx context.Context, tag string) {
	if stageCounter != nil {
		stageCounter.Add(ctx, 1, metric.WithAttributes(AttrTag.String(tag)))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// JobCountFunc returns job counts by status. Used for the
// warpengine_jobs_total gauge.
type JobCountFunc func() map[string]int64

// InitMetricsWithJobCount creates instruments and optionally registers a callback
// for the jobs-by-status gauge. Call after InitMeterProvider. If jobCount is nil,
// the gauge is not reported.
func InitMetricsWithJobCount(ctx context.Context, jobCount JobCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if jobCount == nil {
		return nil
	}
	m := Meter()
	jobsGauge, err := m.Float64ObservableGauge("warpengine_jobs_total", metric.WithDescription("Number of jobs by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for status, n := range jobCount() {
			o.ObserveFloat64(jobsGauge, float64(n), metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, jobsGauge)
	return err
}
