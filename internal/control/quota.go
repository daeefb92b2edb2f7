package control

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AllocateQuotaRequest carries the quota operation to be allocated.
type AllocateQuotaRequest struct {
	ServiceName    string
	QuotaOperation *QuotaOperation
}

// AllocateQuotaResponse is the quota decision for one operation. An
// empty AllocateErrors means the quota was granted.
type AllocateQuotaResponse struct {
	OperationID    string
	AllocateErrors []QuotaError
}

// Failed reports whether resp denies the call.
func (resp *AllocateQuotaResponse) Failed() bool {
	return resp != nil && len(resp.AllocateErrors) > 0
}

// QuotaAggregator deduplicates and merges AllocateQuota requests,
// answers cache hits with an optimistic positive response on first miss
// to avoid a thundering herd, and schedules background refresh. See
// endpoints_management/control/quota_request.py for the reference
// semantics.
type QuotaAggregator struct {
	serviceName string
	cfg         QuotaConfig
	now         func() time.Time
	log         zerolog.Logger

	enabled bool
	cache   *aggregatorCache[*QuotaOperation, *AllocateQuotaResponse]

	outMu    sync.Mutex
	outbound []refreshItem
}

// refreshItem is one pending outbound AllocateQuota refresh, carrying
// the mode the scheduler should request.
type refreshItem struct {
	op   *QuotaOperation
	mode QuotaMode
}

// NewQuotaAggregator constructs a QuotaAggregator. A CacheEntries <= 0
// disables caching: AllocateQuota always misses and Flush is empty.
func NewQuotaAggregator(serviceName string, cfg QuotaConfig, now func() time.Time, log zerolog.Logger) *QuotaAggregator {
	if now == nil {
		now = time.Now
	}
	a := &QuotaAggregator{
		serviceName: serviceName,
		cfg:         cfg,
		now:         now,
		log:         log.With().Str("aggregator", "quota").Logger(),
		enabled:     cachingEnabled(cfg.CacheEntries),
	}
	if a.enabled {
		a.cache = newAggregatorCache[*QuotaOperation, *AllocateQuotaResponse](cfg.CacheEntries, cfg.Expiration, now, a.onEvict)
	}
	return a
}

// FlushInterval is the configured refresh period, or 0 if caching is
// disabled.
func (a *QuotaAggregator) FlushInterval() time.Duration {
	if !a.enabled {
		return 0
	}
	return a.cfg.FlushInterval
}

// AllocateQuota looks up req's fingerprint. On a miss it inserts a
// temporary positive response (no errors), marks the entry in-flight,
// enqueues the real request at BEST_EFFORT, and returns that temporary
// response immediately -- this is what prevents many concurrent callers
// from all blocking behind the same first RPC. On a hit it merges the
// caller's cost into the entry's running operation and, if the entry is
// due for a refresh, enqueues one (NORMAL if the cached response is
// currently negative, BEST_EFFORT otherwise).
func (a *QuotaAggregator) AllocateQuota(req *AllocateQuotaRequest) (*AllocateQuotaResponse, bool) {
	if req == nil || req.QuotaOperation == nil || !a.enabled {
		return nil, false
	}

	op := req.QuotaOperation
	sig := FingerprintQuotaOperation(op)
	now := a.now()

	entry, hit := a.cache.get(sig)
	if !hit {
		temp := &AllocateQuotaResponse{OperationID: op.OperationID}
		freshOp := cloneQuotaOperation(op)
		entry = &cacheEntry[*QuotaOperation, *AllocateQuotaResponse]{
			request:         freshOp,
			lastResponse:    temp,
			lastCheckTime:   now,
			lastRefreshTime: now,
			inFlight:        true,
		}
		a.cache.set(sig, entry)
		// Enqueue the entry's own accumulator, not a snapshot, so later
		// calls that merge into it before the flusher drains the queue
		// contribute to the same outbound request.
		a.enqueue(freshOp, QuotaModeBestEffort)
		a.log.Debug().Str("operation_name", op.OperationName).Msg("quota cache miss, optimistic grant")
		return temp, true
	}

	_ = mergeQuotaOperation(entry.request, op)

	if !entry.inFlight && now.Sub(entry.lastCheckTime) >= a.cfg.FlushInterval {
		entry.inFlight = true
		entry.lastRefreshTime = now
		mode := QuotaModeBestEffort
		if entry.lastResponse.Failed() {
			mode = QuotaModeNormal
		}
		a.enqueue(entry.request, mode)
	}

	return entry.lastResponse, true
}

// AddResponse writes back the result of an out-of-band AllocateQuota
// RPC, last-writer-wins, and clears the in-flight flag so the next due
// refresh can be scheduled.
func (a *QuotaAggregator) AddResponse(req *AllocateQuotaRequest, resp *AllocateQuotaResponse) {
	if !a.enabled || req == nil || req.QuotaOperation == nil {
		return
	}
	sig := FingerprintQuotaOperation(req.QuotaOperation)
	entry, hit := a.cache.get(sig)
	if !hit {
		return
	}
	entry.lastResponse = resp
	entry.inFlight = false
	entry.lastCheckTime = a.now()
}

// Flush drains the outbound queue: the requests AllocateQuota enqueued on
// a first sighting or when a non-in-flight entry became due for refresh,
// plus the pending cost of evicted entries. It does not itself examine
// entry age.
func (a *QuotaAggregator) Flush() []*AllocateQuotaRequest {
	if !a.enabled {
		return nil
	}

	a.outMu.Lock()
	items := a.outbound
	a.outbound = nil
	a.outMu.Unlock()

	reqs := make([]*AllocateQuotaRequest, 0, len(items))
	for _, item := range items {
		// Snapshot the accumulated cost at flush time, then reset the
		// live entry so costs merged after this point start a fresh
		// window instead of being double-counted on the next flush.
		snapshot := cloneQuotaOperation(item.op)
		snapshot.QuotaMode = item.mode
		reqs = append(reqs, &AllocateQuotaRequest{ServiceName: a.serviceName, QuotaOperation: snapshot})
		item.op.MetricValueSets = nil
	}
	return reqs
}

// Clear empties the cache.
func (a *QuotaAggregator) Clear() {
	if !a.enabled {
		return
	}
	a.cache.clear()
	a.outMu.Lock()
	a.outbound = nil
	a.outMu.Unlock()
}

func (a *QuotaAggregator) enqueue(op *QuotaOperation, mode QuotaMode) {
	a.outMu.Lock()
	a.outbound = append(a.outbound, refreshItem{op: op, mode: mode})
	a.outMu.Unlock()
}

// onEvict preserves an evicted entry's accumulated cost on the outbound
// queue rather than dropping it, per the resource-bound eviction rule.
func (a *QuotaAggregator) onEvict(entry *cacheEntry[*QuotaOperation, *AllocateQuotaResponse]) {
	if entry.request == nil || len(entry.request.MetricValueSets) == 0 {
		return
	}
	a.enqueue(cloneQuotaOperation(entry.request), QuotaModeNormal)
}

func cloneQuotaOperation(op *QuotaOperation) *QuotaOperation {
	clone := &QuotaOperation{
		OperationID:   op.OperationID,
		OperationName: op.OperationName,
		ConsumerID:    op.ConsumerID,
		QuotaMode:     op.QuotaMode,
		Labels:        copyLabels(op.Labels),
	}
	clone.MetricValueSets = make([]MetricValueSet, len(op.MetricValueSets))
	copy(clone.MetricValueSets, op.MetricValueSets)
	return clone
}
