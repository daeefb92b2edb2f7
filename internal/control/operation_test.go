package control

import (
	"testing"
	"time"
)

func TestOperationAggregator_DeltaMetricsSum(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &Operation{
		OperationName: "m",
		ConsumerID:    "c",
		StartTime:     t0,
		EndTime:       t0.Add(time.Second),
		MetricValueSets: []MetricValueSet{
			{MetricName: "requests", Values: []*MetricValue{{Value: Int64Value(2)}}},
		},
	}
	agg := NewOperationAggregator(first, nil)

	second := &Operation{
		OperationName: "m",
		ConsumerID:    "c",
		StartTime:     t0.Add(-time.Minute), // earlier start
		EndTime:       t0.Add(time.Hour),    // later end
		MetricValueSets: []MetricValueSet{
			{MetricName: "requests", Values: []*MetricValue{{Value: Int64Value(3)}}},
		},
	}
	if err := agg.Add(second); err != nil {
		t.Fatalf("Add: %v", err)
	}

	result := agg.Result()
	if !result.StartTime.Equal(t0.Add(-time.Minute)) {
		t.Fatalf("start time = %v, want the earlier of the two", result.StartTime)
	}
	if !result.EndTime.Equal(t0.Add(time.Hour)) {
		t.Fatalf("end time = %v, want the later of the two", result.EndTime)
	}
	if len(result.MetricValueSets) != 1 {
		t.Fatalf("expected one metric set, got %d", len(result.MetricValueSets))
	}
	got := result.MetricValueSets[0].Values[0].Value.(Int64Value)
	if got != 5 {
		t.Fatalf("requests = %d, want 5", got)
	}
}

func TestOperationAggregator_GaugeKeepsLatestByEndTime(t *testing.T) {
	kinds := KindMap{"active_connections": MetricKindGauge}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := t0
	newer := t0.Add(time.Minute)

	first := &Operation{
		OperationName: "m",
		MetricValueSets: []MetricValueSet{
			{MetricName: "active_connections", Values: []*MetricValue{{Value: Int64Value(10), EndTime: &older}}},
		},
	}
	agg := NewOperationAggregator(first, kinds)

	second := &Operation{
		OperationName: "m",
		MetricValueSets: []MetricValueSet{
			{MetricName: "active_connections", Values: []*MetricValue{{Value: Int64Value(20), EndTime: &newer}}},
		},
	}
	if err := agg.Add(second); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := agg.Result().MetricValueSets[0].Values[0].Value.(Int64Value)
	if got != 20 {
		t.Fatalf("gauge value = %d, want the later sample (20)", got)
	}
}

func TestOperationAggregator_GaugeTieBreaksToExisting(t *testing.T) {
	kinds := KindMap{"g": MetricKindGauge}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &Operation{
		OperationName:   "m",
		MetricValueSets: []MetricValueSet{{MetricName: "g", Values: []*MetricValue{{Value: Int64Value(1), EndTime: &ts}}}},
	}
	agg := NewOperationAggregator(first, kinds)

	second := &Operation{
		OperationName:   "m",
		MetricValueSets: []MetricValueSet{{MetricName: "g", Values: []*MetricValue{{Value: Int64Value(2), EndTime: &ts}}}},
	}
	if err := agg.Add(second); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := agg.Result().MetricValueSets[0].Values[0].Value.(Int64Value)
	if got != 1 {
		t.Fatalf("tie should keep the existing (prior) value 1, got %d", got)
	}
}

func TestOperationAggregator_BoolCannotBeDeltaMerged(t *testing.T) {
	first := &Operation{
		OperationName:   "m",
		MetricValueSets: []MetricValueSet{{MetricName: "flag", Values: []*MetricValue{{Value: BoolValue(true)}}}},
	}
	agg := NewOperationAggregator(first, nil)

	second := &Operation{
		OperationName:   "m",
		MetricValueSets: []MetricValueSet{{MetricName: "flag", Values: []*MetricValue{{Value: BoolValue(false)}}}},
	}
	if err := agg.Add(second); err == nil {
		t.Fatal("expected an error merging two bool values as a DELTA")
	}
}
