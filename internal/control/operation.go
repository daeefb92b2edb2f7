package control

import (
	"sync"
	"time"
)

// OperationAggregator merges a sequence of Operations that share a
// fingerprint into a single accumulated Operation, following
// google/scc/aggregators/operation.py's add()/_merge_metric_values().
//
// Add and Result take the aggregator's own mutex, so callers may invoke
// them without holding any cache lock.
type OperationAggregator struct {
	mu    sync.Mutex
	kinds KindMap

	operationID   string
	operationName string
	consumerID    string
	importance    Importance
	startTime     time.Time
	endTime       time.Time
	hasStart      bool
	hasEnd        bool
	labels        map[string]string
	logEntries    []LogEntry

	metricNames []string
	metrics     map[string]map[string]*MetricValue // metric name -> signature -> value
}

// NewOperationAggregator seeds a new aggregator with the first Operation
// observed for a fingerprint.
func NewOperationAggregator(first *Operation, kinds KindMap) *OperationAggregator {
	agg := &OperationAggregator{
		kinds:   kinds,
		metrics: make(map[string]map[string]*MetricValue),
	}
	agg.reset(first)
	return agg
}

func (a *OperationAggregator) reset(op *Operation) {
	a.operationID = op.OperationID
	a.operationName = op.OperationName
	a.consumerID = op.ConsumerID
	a.importance = op.Importance
	a.labels = copyLabels(op.Labels)
	a.logEntries = append([]LogEntry(nil), op.LogEntries...)
	a.metricNames = a.metricNames[:0]
	a.metrics = make(map[string]map[string]*MetricValue)

	if !op.StartTime.IsZero() {
		a.startTime, a.hasStart = op.StartTime, true
	}
	if !op.EndTime.IsZero() {
		a.endTime, a.hasEnd = op.EndTime, true
	}
	for _, set := range op.MetricValueSets {
		for _, v := range set.Values {
			a.insert(set.MetricName, v)
		}
	}
}

// Add merges op into the aggregator's running result.
func (a *OperationAggregator) Add(op *Operation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// start_time <- min(A.start, B.start), treating an unset timestamp
	// as +infinity for the purpose of the comparison.
	if !op.StartTime.IsZero() && (!a.hasStart || op.StartTime.Before(a.startTime)) {
		a.startTime, a.hasStart = op.StartTime, true
	}
	// end_time <- max(A.end, B.end), unset treated as -infinity.
	if !op.EndTime.IsZero() && (!a.hasEnd || op.EndTime.After(a.endTime)) {
		a.endTime, a.hasEnd = op.EndTime, true
	}

	a.logEntries = append(a.logEntries, op.LogEntries...)

	for _, set := range op.MetricValueSets {
		for _, v := range set.Values {
			if err := a.merge(set.MetricName, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *OperationAggregator) insert(metricName string, v *MetricValue) {
	bucket, ok := a.metrics[metricName]
	if !ok {
		bucket = make(map[string]*MetricValue)
		a.metrics[metricName] = bucket
		a.metricNames = append(a.metricNames, metricName)
	}
	bucket[v.signature()] = v
}

func (a *OperationAggregator) merge(metricName string, v *MetricValue) error {
	bucket, ok := a.metrics[metricName]
	if !ok {
		a.insert(metricName, v)
		return nil
	}
	sig := v.signature()
	existing, ok := bucket[sig]
	if !ok {
		bucket[sig] = v
		return nil
	}
	merged, err := MergeMetricValue(existing, v, a.kinds.kindOf(metricName))
	if err != nil {
		return err
	}
	bucket[sig] = merged
	return nil
}

// Result returns a snapshot Operation reflecting everything merged so
// far. The OperationID/OperationName/ConsumerID/Importance are those of
// the most recently reset operation; aggregation never changes them
// because CheckAggregator/QuotaAggregator/ReportBatcher only ever merge
// operations sharing the same fingerprint, which implies the same
// operation name and consumer id.
func (a *OperationAggregator) Result() *Operation {
	a.mu.Lock()
	defer a.mu.Unlock()

	sets := make([]MetricValueSet, 0, len(a.metricNames))
	for _, name := range a.metricNames {
		bucket := a.metrics[name]
		values := make([]*MetricValue, 0, len(bucket))
		for _, v := range bucket {
			values = append(values, v)
		}
		sets = append(sets, MetricValueSet{MetricName: name, Values: values})
	}

	return &Operation{
		OperationID:     a.operationID,
		OperationName:   a.operationName,
		ConsumerID:      a.consumerID,
		StartTime:       a.startTime,
		EndTime:         a.endTime,
		Importance:      a.importance,
		Labels:          copyLabels(a.labels),
		MetricValueSets: sets,
		LogEntries:      append([]LogEntry(nil), a.logEntries...),
	}
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// QuotaOperation is the operation-shaped payload carried by
// AllocateQuota requests. It is distinct from Operation because quota
// costs are always DELTA-combined regardless of any configured kind, and
// it carries a QuotaMode instead of Importance/LogEntries.
type QuotaOperation struct {
	OperationID     string
	OperationName   string
	ConsumerID      string
	QuotaMode       QuotaMode
	Labels          map[string]string
	MetricValueSets []MetricValueSet
}

// QuotaMode mirrors the wire enum governing how the backend should treat
// an AllocateQuota call.
type QuotaMode int

const (
	QuotaModeUnspecified QuotaMode = iota
	QuotaModeNormal
	QuotaModeBestEffort
)

// mergeQuotaOperation combines b's per-metric costs into a, always using
// the DELTA rule (int64 sum) irrespective of any kinds map: quota costs
// are inherently additive between refreshes.
func mergeQuotaOperation(a, b *QuotaOperation) error {
	totals := make(map[string]int64, len(a.MetricValueSets))
	order := make([]string, 0, len(a.MetricValueSets))
	for _, set := range a.MetricValueSets {
		if len(set.Values) == 0 {
			continue
		}
		totals[set.MetricName] = int64(set.Values[0].Value.(Int64Value))
		order = append(order, set.MetricName)
	}
	for _, set := range b.MetricValueSets {
		if len(set.Values) == 0 {
			continue
		}
		cost := int64(set.Values[0].Value.(Int64Value))
		if _, seen := totals[set.MetricName]; !seen {
			order = append(order, set.MetricName)
		}
		totals[set.MetricName] += cost
	}

	sets := make([]MetricValueSet, 0, len(order))
	for _, name := range order {
		sets = append(sets, MetricValueSet{
			MetricName: name,
			Values:     []*MetricValue{{Value: Int64Value(totals[name])}},
		})
	}
	a.MetricValueSets = sets
	return nil
}
