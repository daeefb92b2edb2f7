package control

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newFakeClock(start time.Time) (now func() time.Time, advance func(time.Duration)) {
	cur := start
	now = func() time.Time { return cur }
	advance = func(d time.Duration) { cur = cur.Add(d) }
	return
}

func TestCheckAggregator_HitThenMissTimeline(t *testing.T) {
	now, advance := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := CheckConfig{CacheEntries: 10, ResponseExpiration: 2 * time.Second, FlushInterval: time.Second}
	agg := NewCheckAggregator("svc", cfg, nil, now, zerolog.Nop())

	op := &Operation{OperationName: "m", ConsumerID: "c"}
	req := &CheckRequest{ServiceName: "svc", Operation: op}

	// First call: cache miss, caller must issue the RPC itself.
	if _, hit := agg.Check(req); hit {
		t.Fatal("expected a miss on first sighting")
	}
	agg.AddResponse(req, &CheckResponse{OperationID: "op1"})

	// 0.5s later, well within the flush interval: cached hit.
	advance(500 * time.Millisecond)
	resp, hit := agg.Check(req)
	if !hit || resp == nil || resp.OperationID != "op1" {
		t.Fatalf("expected a cached hit at 0.5s, got hit=%v resp=%+v", hit, resp)
	}

	// 1.5s after the original check (past the 1s flush interval, short of
	// the 2s expiration): the cached value is still returned as fresh by
	// the immediately-preceding call, but this call finds it due for
	// refresh and signals a miss so the scheduler refreshes it.
	advance(time.Second)
	if _, hit := agg.Check(req); hit {
		t.Fatal("expected a miss once the entry is due for refresh")
	}

	// 2.1s after that refresh point (past the 2s expiration): entry is
	// reset outright.
	advance(2100 * time.Millisecond)
	if _, hit := agg.Check(req); hit {
		t.Fatal("expected a miss once the entry has fully expired")
	}
}

func TestCheckAggregator_HighImportanceBypassesCache(t *testing.T) {
	now, _ := newFakeClock(time.Now())
	cfg := CheckConfig{CacheEntries: 10, ResponseExpiration: 2 * time.Second, FlushInterval: time.Second}
	agg := NewCheckAggregator("svc", cfg, nil, now, zerolog.Nop())

	op := &Operation{OperationName: "m", ConsumerID: "c", Importance: ImportanceHigh}
	req := &CheckRequest{ServiceName: "svc", Operation: op}
	agg.AddResponse(req, &CheckResponse{OperationID: "op1"})

	if _, hit := agg.Check(req); hit {
		t.Fatal("high importance operations must never be served from cache")
	}
}

func TestCheckAggregator_DisabledCacheAlwaysMisses(t *testing.T) {
	now, _ := newFakeClock(time.Now())
	cfg := CheckConfig{CacheEntries: -1, ResponseExpiration: 2 * time.Second, FlushInterval: time.Second}
	agg := NewCheckAggregator("svc", cfg, nil, now, zerolog.Nop())

	if agg.FlushInterval() != 0 {
		t.Fatal("a disabled aggregator must report a zero flush interval")
	}

	op := &Operation{OperationName: "m", ConsumerID: "c"}
	req := &CheckRequest{ServiceName: "svc", Operation: op}
	if _, hit := agg.Check(req); hit {
		t.Fatal("a disabled cache must always miss")
	}
	if reqs := agg.Flush(); len(reqs) != 0 {
		t.Fatalf("a disabled cache must never flush, got %d requests", len(reqs))
	}
}

func TestCheckAggregator_FailedResponseCachedUntilFlushInterval(t *testing.T) {
	now, advance := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := CheckConfig{CacheEntries: 10, ResponseExpiration: 10 * time.Second, FlushInterval: time.Second}
	agg := NewCheckAggregator("svc", cfg, nil, now, zerolog.Nop())

	op := &Operation{OperationName: "m", ConsumerID: "c"}
	req := &CheckRequest{ServiceName: "svc", Operation: op}
	agg.Check(req)
	agg.AddResponse(req, &CheckResponse{OperationID: "op1", CheckErrors: []CheckError{{Code: CheckErrorAPIKeyInvalid}}})

	advance(500 * time.Millisecond)
	resp, hit := agg.Check(req)
	if !hit || !resp.Failed() {
		t.Fatalf("expected the cached failure to be returned within the flush interval, got hit=%v resp=%+v", hit, resp)
	}

	advance(time.Second)
	if _, hit := agg.Check(req); hit {
		t.Fatal("expected a miss once the failed entry is due for refresh")
	}
}
