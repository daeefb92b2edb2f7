package control

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func quotaOp(cost int64) *QuotaOperation {
	return &QuotaOperation{
		OperationName: "m",
		ConsumerID:    "c",
		MetricValueSets: []MetricValueSet{
			{MetricName: "read_requests", Values: []*MetricValue{{Value: Int64Value(cost)}}},
		},
	}
}

func TestQuotaAggregator_MergesConcurrentCostsBeforeFlush(t *testing.T) {
	now, _ := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := QuotaConfig{CacheEntries: 10, Expiration: 10 * time.Minute, FlushInterval: time.Second}
	agg := NewQuotaAggregator("svc", cfg, now, zerolog.Nop())

	for _, cost := range []int64{2, 3, 5} {
		req := &AllocateQuotaRequest{ServiceName: "svc", QuotaOperation: quotaOp(cost)}
		resp, hit := agg.AllocateQuota(req)
		if !hit || resp.Failed() {
			t.Fatalf("expected an optimistic positive hit for cost %d, got hit=%v resp=%+v", cost, hit, resp)
		}
	}

	reqs := agg.Flush()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one flushed request, got %d", len(reqs))
	}
	sets := reqs[0].QuotaOperation.MetricValueSets
	if len(sets) != 1 {
		t.Fatalf("expected one metric set, got %d", len(sets))
	}
	got := int64(sets[0].Values[0].Value.(Int64Value))
	if got != 10 {
		t.Fatalf("flushed read_requests cost = %d, want 10 (2+3+5)", got)
	}
}

func TestQuotaAggregator_DisabledAlwaysMisses(t *testing.T) {
	now, _ := newFakeClock(time.Now())
	cfg := QuotaConfig{CacheEntries: -1, Expiration: time.Minute, FlushInterval: time.Second}
	agg := NewQuotaAggregator("svc", cfg, now, zerolog.Nop())

	req := &AllocateQuotaRequest{ServiceName: "svc", QuotaOperation: quotaOp(1)}
	if _, hit := agg.AllocateQuota(req); hit {
		t.Fatal("a disabled quota cache must never hit")
	}
}

func TestQuotaAggregator_AddResponseClearsInFlight(t *testing.T) {
	now, advance := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := QuotaConfig{CacheEntries: 10, Expiration: 10 * time.Minute, FlushInterval: time.Second}
	agg := NewQuotaAggregator("svc", cfg, now, zerolog.Nop())

	req := &AllocateQuotaRequest{ServiceName: "svc", QuotaOperation: quotaOp(1)}
	agg.AllocateQuota(req)
	agg.Flush()
	agg.AddResponse(req, &AllocateQuotaResponse{OperationID: req.QuotaOperation.OperationID})

	advance(2 * time.Second)
	resp, hit := agg.AllocateQuota(req)
	if !hit || resp.Failed() {
		t.Fatalf("expected a cached positive hit after AddResponse, got hit=%v resp=%+v", hit, resp)
	}
	if reqs := agg.Flush(); len(reqs) != 1 {
		t.Fatalf("expected the now-due entry to be re-enqueued exactly once, got %d", len(reqs))
	}
}
