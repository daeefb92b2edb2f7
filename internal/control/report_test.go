package control

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestReportBatcher_MergesManyReportsIntoOneBatchedRequest(t *testing.T) {
	now, _ := newFakeClock(time.Now())
	cfg := ReportConfig{CacheEntries: 100, FlushInterval: time.Second}
	batcher := NewReportBatcher("svc", cfg, nil, now, zerolog.Nop())

	consumers := []string{"c1", "c2", "c3"}
	for i := 0; i < 2500; i++ {
		op := &Operation{
			OperationName: "m",
			ConsumerID:    consumers[i%3],
			MetricValueSets: []MetricValueSet{
				{MetricName: "requests", Values: []*MetricValue{{Value: Int64Value(1)}}},
			},
		}
		outcome := batcher.Report(&ReportRequest{ServiceName: "svc", Operations: []*Operation{op}})
		if outcome != ReportCachedOK {
			t.Fatalf("report %d: expected ReportCachedOK, got %v", i, outcome)
		}
	}

	reqs := batcher.Flush()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one flushed request, got %d", len(reqs))
	}
	if len(reqs[0].Operations) != 3 {
		t.Fatalf("expected 3 distinct fingerprints to merge down to 3 operations, got %d", len(reqs[0].Operations))
	}

	totals := map[string]int64{}
	for _, op := range reqs[0].Operations {
		totals[op.ConsumerID] = int64(op.MetricValueSets[0].Values[0].Value.(Int64Value))
	}
	for _, c := range consumers {
		if totals[c] == 0 {
			t.Fatalf("consumer %s missing from flushed batch", c)
		}
	}
}

func TestReportBatcher_AllHighImportancePassesThrough(t *testing.T) {
	now, _ := newFakeClock(time.Now())
	cfg := ReportConfig{CacheEntries: 100, FlushInterval: time.Second}
	batcher := NewReportBatcher("svc", cfg, nil, now, zerolog.Nop())

	req := &ReportRequest{ServiceName: "svc", Operations: []*Operation{
		{OperationName: "m", Importance: ImportanceHigh},
		{OperationName: "n", Importance: ImportanceHigh},
	}}
	if outcome := batcher.Report(req); outcome != ReportPassthrough {
		t.Fatalf("expected ReportPassthrough when every operation is HIGH importance, got %v", outcome)
	}
}

func TestReportBatcher_MixedImportanceStillMerges(t *testing.T) {
	now, _ := newFakeClock(time.Now())
	cfg := ReportConfig{CacheEntries: 100, FlushInterval: time.Second}
	batcher := NewReportBatcher("svc", cfg, nil, now, zerolog.Nop())

	req := &ReportRequest{ServiceName: "svc", Operations: []*Operation{
		{OperationName: "m", Importance: ImportanceHigh},
		{OperationName: "n", Importance: ImportanceLow},
	}}
	if outcome := batcher.Report(req); outcome != ReportCachedOK {
		t.Fatalf("a request mixing LOW and HIGH importance must still merge as a whole, got %v", outcome)
	}
	reqs := batcher.Flush()
	if len(reqs) != 1 || len(reqs[0].Operations) != 2 {
		t.Fatalf("expected both operations (including the HIGH one) to be flushed together, got %+v", reqs)
	}
}

func TestReportBatcher_DisabledAlwaysPassesThrough(t *testing.T) {
	now, _ := newFakeClock(time.Now())
	cfg := ReportConfig{CacheEntries: -1, FlushInterval: time.Second}
	batcher := NewReportBatcher("svc", cfg, nil, now, zerolog.Nop())

	req := &ReportRequest{ServiceName: "svc", Operations: []*Operation{{OperationName: "m"}}}
	if outcome := batcher.Report(req); outcome != ReportPassthrough {
		t.Fatal("a disabled report batcher must always pass through")
	}
}

func TestReportBatcher_EnforceCapacityEvictsOldestOntoOutboundQueue(t *testing.T) {
	now, _ := newFakeClock(time.Now())
	cfg := ReportConfig{CacheEntries: 1, FlushInterval: time.Second}
	batcher := NewReportBatcher("svc", cfg, nil, now, zerolog.Nop())

	batcher.Report(&ReportRequest{ServiceName: "svc", Operations: []*Operation{{OperationName: "m", ConsumerID: "c1"}}})
	batcher.Report(&ReportRequest{ServiceName: "svc", Operations: []*Operation{{OperationName: "m", ConsumerID: "c2"}}})

	// c1 is evicted over capacity before the flush, but must still appear
	// in the flushed batch via the outbound queue rather than being
	// silently dropped.
	reqs := batcher.Flush()
	if len(reqs) != 1 || len(reqs[0].Operations) != 2 {
		t.Fatalf("expected both the evicted and the surviving entry in the flush, got %+v", reqs)
	}
	consumers := map[string]bool{}
	for _, op := range reqs[0].Operations {
		consumers[op.ConsumerID] = true
	}
	if !consumers["c1"] || !consumers["c2"] {
		t.Fatalf("expected both c1 (evicted) and c2 (kept) in the flush, got %+v", consumers)
	}
}
