package otel

import (
	"context"
	"testing"
	"time"
)

func TestInitMetrics_RecordJobOp(t *testing.T) {
	ctx := context.Background()
	_, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordJobOp(ctx, "submit", "run_agent", "pending")
	RecordJobOp(ctx, "claim", "run_agent", "running")
}

func TestAddSSEConnection_RemoveSSEConnection(t *testing.T) {
	AddSSEConnection()
	AddSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection() // should not go negative
}

func TestRecordChainPhase_RecordStageTransition_RecordSSEEvent(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "record-test")
	_ = InitMetrics(ctx)
	RecordChainPhase(ctx, "demo", "plan", 100*time.Millisecond)
	RecordStageTransition(ctx, "prompt_refined")
	RecordSSEEvent(ctx)
}

func TestInitMetricsWithJobCount(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "jobcount-test")
	err := InitMetricsWithJobCount(ctx, func() map[string]int64 {
		return map[string]int64{"pending": 1, "running": 2, "completed": 3}
	})
	if err != nil {
		t.Fatalf("InitMetricsWithJobCount: %v", err)
	}
}

func TestInitMetricsWithJobCount_nilFunc(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "jobcount-nil-test")
	err := InitMetricsWithJobCount(ctx, nil)
	if err != nil {
		t.Fatalf("InitMetricsWithJobCount(nil): %v", err)
	}
}
