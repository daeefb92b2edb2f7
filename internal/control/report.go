package control

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MaxOperationCount is the maximum number of operations packed into a
// single flushed ReportRequest.
const MaxOperationCount = 1000

// ReportRequest carries a batch of operations to report.
type ReportRequest struct {
	ServiceName string
	Operations  []*Operation
}

// reportOutcome tells the caller of Report whether the request was folded
// into the cache or still needs to be sent.
type reportOutcome int

const (
	// ReportPassthrough means the caller must send req to the backend
	// itself: either caching is disabled, or every operation in req is
	// of HIGH importance.
	ReportPassthrough reportOutcome = iota
	// ReportCachedOK means req was merged into the cache and the caller
	// does not need to do anything further.
	ReportCachedOK
)

// ReportBatcher merges report operations by fingerprint and periodically
// flushes them as batched ReportRequests. See
// google/scc/aggregators/report_request.py for the reference semantics.
type ReportBatcher struct {
	serviceName string
	cfg         ReportConfig
	kinds       KindMap
	now         func() time.Time
	log         zerolog.Logger

	enabled bool

	mu       sync.Mutex
	order    []Fingerprint
	aggs     map[Fingerprint]*OperationAggregator
	outbound []*Operation
}

// NewReportBatcher constructs a ReportBatcher. A CacheEntries <= 0
// disables caching: every Report call is a passthrough.
func NewReportBatcher(serviceName string, cfg ReportConfig, kinds KindMap, now func() time.Time, log zerolog.Logger) *ReportBatcher {
	if now == nil {
		now = time.Now
	}
	return &ReportBatcher{
		serviceName: serviceName,
		cfg:         cfg,
		kinds:       kinds,
		now:         now,
		log:         log.With().Str("aggregator", "report").Logger(),
		enabled:     cachingEnabled(cfg.CacheEntries),
		aggs:        make(map[Fingerprint]*OperationAggregator),
	}
}

// FlushInterval is the configured flush period, or 0 if caching is
// disabled.
func (a *ReportBatcher) FlushInterval() time.Duration {
	if !a.enabled {
		return 0
	}
	return a.cfg.FlushInterval
}

// Report merges req's operations into the cache, or signals the caller
// to send req through directly. Following
// report_request.py's _has_high_important_operation (a functools.reduce
// AND-fold), the whole request is passed through only when every
// operation in it is of HIGH importance -- a request mixing LOW and HIGH
// operations still gets merged as a whole, HIGH operations included,
// because the gate is request-level, not per-operation.
func (a *ReportBatcher) Report(req *ReportRequest) reportOutcome {
	if !a.enabled || req == nil || len(req.Operations) == 0 {
		return ReportPassthrough
	}
	if allHighImportance(req.Operations) {
		return ReportPassthrough
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, op := range req.Operations {
		sig := FingerprintReportOperation(op)
		if agg, ok := a.aggs[sig]; ok {
			_ = agg.Add(op)
			continue
		}
		a.aggs[sig] = NewOperationAggregator(op, a.kinds)
		a.order = append(a.order, sig)
		a.enforceCapacityLocked()
	}

	return ReportCachedOK
}

func allHighImportance(ops []*Operation) bool {
	for _, op := range ops {
		if op.Importance != ImportanceHigh {
			return false
		}
	}
	return true
}

// enforceCapacityLocked evicts the oldest aggregators past CacheEntries,
// moving their merged content onto the outbound queue rather than
// dropping it so nothing is silently lost (report has no LRU-touch-on-
// read, so "oldest" here means oldest-inserted, matching a pure LRU cache
// with no reads).
func (a *ReportBatcher) enforceCapacityLocked() {
	if a.cfg.CacheEntries <= 0 {
		return
	}
	for len(a.order) > a.cfg.CacheEntries {
		sig := a.order[0]
		a.order = a.order[1:]
		if agg, ok := a.aggs[sig]; ok {
			a.outbound = append(a.outbound, agg.Result())
			delete(a.aggs, sig)
		}
	}
}

// Flush converts every aggregator into a single Operation and packs them
// into ReportRequests of at most MaxOperationCount operations each, in
// insertion order, clearing the cache as it goes.
func (a *ReportBatcher) Flush() []*ReportRequest {
	if !a.enabled {
		return nil
	}
	a.mu.Lock()
	ops := a.drainLocked()
	a.mu.Unlock()
	return batchOperations(a.serviceName, ops)
}

// Clear drains the cache synchronously, used when the facade shuts down
// so nothing pending is lost.
func (a *ReportBatcher) Clear() []*ReportRequest {
	return a.Flush()
}

func (a *ReportBatcher) drainLocked() []*Operation {
	ops := make([]*Operation, 0, len(a.order)+len(a.outbound))
	ops = append(ops, a.outbound...)
	for _, sig := range a.order {
		ops = append(ops, a.aggs[sig].Result())
	}
	a.order = nil
	a.aggs = make(map[Fingerprint]*OperationAggregator)
	a.outbound = nil
	return ops
}

func batchOperations(serviceName string, ops []*Operation) []*ReportRequest {
	if len(ops) == 0 {
		return nil
	}
	var reqs []*ReportRequest
	for i := 0; i < len(ops); i += MaxOperationCount {
		end := i + MaxOperationCount
		if end > len(ops) {
			end = len(ops)
		}
		reqs = append(reqs, &ReportRequest{ServiceName: serviceName, Operations: ops[i:end]})
	}
	return reqs
}
