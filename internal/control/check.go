package control

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CheckErrorCode enumerates the admission failures a Check can report.
type CheckErrorCode int

const (
	CheckErrorUnspecified CheckErrorCode = iota
	CheckErrorAPIKeyInvalid
	CheckErrorAPIKeyExpired
	CheckErrorAPIKeyNotFound
	CheckErrorProjectDeleted
	CheckErrorProjectInvalid
	CheckErrorBillingDisabled
	CheckErrorServiceNotActivated
)

// CheckError is a single admission failure reason.
type CheckError struct {
	Code   CheckErrorCode
	Detail string
}

// CheckRequest carries the operation to be admission-checked.
type CheckRequest struct {
	ServiceName string
	Operation   *Operation
}

// CheckResponse is the admission decision for one operation.
type CheckResponse struct {
	OperationID string
	CheckErrors []CheckError
}

// Failed reports whether resp denies the call.
func (resp *CheckResponse) Failed() bool { return resp != nil && len(resp.CheckErrors) > 0 }

// CheckAggregator deduplicates admission Check requests, caches
// responses, and schedules their refresh. See
// google/scc/aggregators/check_request.py for the reference semantics.
type CheckAggregator struct {
	serviceName string
	cfg         CheckConfig
	kinds       KindMap
	now         func() time.Time
	log         zerolog.Logger

	enabled bool
	cache   *aggregatorCache[*Operation, *CheckResponse]

	outMu     sync.Mutex
	outbound  []*Operation
}

// NewCheckAggregator constructs a CheckAggregator. A CacheEntries <= 0
// disables caching entirely: Check always returns miss=true and Flush
// always returns nothing.
func NewCheckAggregator(serviceName string, cfg CheckConfig, kinds KindMap, now func() time.Time, log zerolog.Logger) *CheckAggregator {
	if now == nil {
		now = time.Now
	}
	a := &CheckAggregator{
		serviceName: serviceName,
		cfg:         cfg,
		kinds:       kinds,
		now:         now,
		log:         log.With().Str("aggregator", "check").Logger(),
		enabled:     cachingEnabled(cfg.CacheEntries),
	}
	if a.enabled {
		a.cache = newAggregatorCache[*Operation, *CheckResponse](cfg.CacheEntries, cfg.ResponseExpiration, now, a.onEvict)
	}
	return a
}

// FlushInterval is the configured refresh period, or 0 if caching is
// disabled.
func (a *CheckAggregator) FlushInterval() time.Duration {
	if !a.enabled {
		return 0
	}
	return a.cfg.FlushInterval
}

// Check looks up req's fingerprint in the cache. It returns (resp, true)
// when a cached response can be returned immediately, or (nil, false) on
// a miss -- the caller must issue the real Check RPC itself (synchronously
// for the inline-scheduler fallback, or let the scheduler's background
// refresh pick it up).
func (a *CheckAggregator) Check(req *CheckRequest) (*CheckResponse, bool) {
	if req == nil || req.Operation == nil {
		return nil, false
	}
	if req.Operation.Importance == ImportanceHigh || !a.enabled {
		return nil, false
	}

	op := req.Operation
	sig := FingerprintCheckOperation(op, "")
	now := a.now()

	entry, hit := a.cache.get(sig)
	if !hit {
		entry = &cacheEntry[*Operation, *CheckResponse]{
			request:       op,
			opAgg:         NewOperationAggregator(op, a.kinds),
			lastCheckTime: now,
			inFlight:      true,
		}
		a.cache.set(sig, entry)
		a.log.Debug().Str("operation_name", op.OperationName).Msg("check cache miss, first sighting")
		return nil, false
	}

	if now.Sub(entry.lastCheckTime) >= a.cfg.ResponseExpiration {
		entry.opAgg = NewOperationAggregator(op, a.kinds)
		entry.lastCheckTime = now
		entry.insertedAt = now
		entry.inFlight = true
		entry.lastResponse = nil
		a.log.Debug().Str("operation_name", op.OperationName).Msg("check cache entry expired")
		return nil, false
	}

	if entry.lastResponse == nil {
		// Still waiting on the first RPC for this fingerprint: merge in
		// and keep returning miss, same as every other concurrent miss.
		_ = entry.opAgg.Add(op)
		return nil, false
	}

	if entry.lastResponse.Failed() {
		if now.Sub(entry.lastCheckTime) < a.cfg.FlushInterval {
			return entry.lastResponse, true
		}
		entry.lastCheckTime = now
		entry.insertedAt = now
		return nil, false
	}

	// Cached success: merge this call's operation in so the next flush
	// carries its contribution, and decide whether the cached response
	// is still fresh enough to answer with directly.
	_ = entry.opAgg.Add(op)
	if now.Sub(entry.lastCheckTime) < a.cfg.FlushInterval {
		return entry.lastResponse, true
	}
	entry.inFlight = true
	entry.lastCheckTime = now
	entry.insertedAt = now
	return nil, false
}

// AddResponse writes back the result of an out-of-band Check RPC,
// last-writer-wins.
func (a *CheckAggregator) AddResponse(req *CheckRequest, resp *CheckResponse) {
	if !a.enabled || req == nil || req.Operation == nil {
		return
	}
	sig := FingerprintCheckOperation(req.Operation, "")
	entry, hit := a.cache.get(sig)
	if !hit {
		return
	}
	entry.lastResponse = resp
	entry.inFlight = false
	entry.lastRefreshTime = a.now()
}

// Flush drains every entry whose OperationAggregator holds pending
// merged content into one CheckRequest each, resetting that entry's
// aggregator afterwards.
func (a *CheckAggregator) Flush() []*CheckRequest {
	if !a.enabled {
		return nil
	}
	var reqs []*CheckRequest
	a.cache.forEach(func(sig Fingerprint, entry *cacheEntry[*Operation, *CheckResponse]) {
		if entry.opAgg == nil {
			return
		}
		op := entry.opAgg.Result()
		if len(op.MetricValueSets) == 0 && len(op.LogEntries) == 0 {
			return
		}
		reqs = append(reqs, &CheckRequest{ServiceName: a.serviceName, Operation: op})
		entry.opAgg = NewOperationAggregator(&Operation{
			OperationID:   op.OperationID,
			OperationName: op.OperationName,
			ConsumerID:    op.ConsumerID,
			Importance:    op.Importance,
			Labels:        op.Labels,
		}, a.kinds)
	})

	a.outMu.Lock()
	for _, op := range a.outbound {
		reqs = append(reqs, &CheckRequest{ServiceName: a.serviceName, Operation: op})
	}
	a.outbound = nil
	a.outMu.Unlock()

	return reqs
}

// Clear empties the cache (used at shutdown). Entries whose aggregator
// still holds merged content are moved to the outbound queue by onEvict.
func (a *CheckAggregator) Clear() {
	if !a.enabled {
		return
	}
	a.cache.clear()
}

// onEvict is invoked (under the cache's lock) when an entry is evicted
// while its OperationAggregator still carries unflushed content; that
// content is preserved on the outbound queue rather than lost.
func (a *CheckAggregator) onEvict(entry *cacheEntry[*Operation, *CheckResponse]) {
	if entry.opAgg == nil {
		return
	}
	op := entry.opAgg.Result()
	if len(op.MetricValueSets) == 0 && len(op.LogEntries) == 0 {
		return
	}
	a.outMu.Lock()
	a.outbound = append(a.outbound, op)
	a.outMu.Unlock()
}
