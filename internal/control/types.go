// Package control implements the in-process admission-check, quota, and
// reporting aggregation engine that sits between a service's request
// handler and a remote Service Control backend.
package control

import (
	"sort"
	"time"
)

// UnsetSize is the sentinel value for Info.RequestSize / Info.ResponseSize
// when the size is not known.
const UnsetSize = -1

// Importance controls whether an Operation is eligible for caching.
// HIGH-importance operations bypass the cache entirely and are always
// sent straight through to the backend.
type Importance int

const (
	ImportanceLow Importance = iota
	ImportanceHigh
)

func (i Importance) String() string {
	if i == ImportanceHigh {
		return "HIGH"
	}
	return "LOW"
}

// MetricKind describes how repeated MetricValues for the same metric name
// should be combined by the OperationAggregator. Absent from the kinds
// map, a metric name defaults to DELTA.
type MetricKind int

const (
	MetricKindDelta MetricKind = iota
	MetricKindGauge
	MetricKindCumulative
)

// KindMap maps a metric name to its MetricKind. A nil KindMap, or a name
// missing from it, is treated as MetricKindDelta.
type KindMap map[string]MetricKind

func (k KindMap) kindOf(metricName string) MetricKind {
	if k == nil {
		return MetricKindDelta
	}
	if kind, ok := k[metricName]; ok {
		return kind
	}
	return MetricKindDelta
}

// LogEntry is a single log line attached to an Operation, carried through
// to the Report path unmodified by aggregation.
type LogEntry struct {
	Name      string
	Timestamp time.Time
	Severity  string
	Message   string
	Labels    map[string]string
}

// MetricValueSet groups every MetricValue reported for a single metric
// name within one Operation.
type MetricValueSet struct {
	MetricName string
	Values     []*MetricValue
}

// Operation is the unit of work the sidecar aggregates and eventually
// reports to the backend. OperationID is stable for the lifetime of one
// inbound call; aggregation never changes it, it only ever aggregates
// operations that share a fingerprint for caching purposes while keeping
// the OperationID of whichever operation is flushed.
type Operation struct {
	OperationID     string
	OperationName   string
	ConsumerID      string
	StartTime       time.Time
	EndTime         time.Time
	Importance      Importance
	Labels          map[string]string
	MetricValueSets []MetricValueSet
	LogEntries      []LogEntry
}

// Info is the complete set of facts the embedding service's HTTP adapter
// gathers about one inbound call. The same struct is shared across the
// Check, AllocateQuota, and Report entry points; fields not relevant to a
// given call are left at their zero value.
type Info struct {
	ServiceName   string
	OperationID   string
	OperationName string

	// ConsumerID may be set directly by the caller; when it is empty,
	// ToOperation and ToQuotaOperation derive it with DeriveConsumerID
	// from APIKey, APIKeyValid and ConsumerProjectNumber.
	ConsumerID string

	APIKey      string
	APIKeyValid bool

	Referer  string
	ClientIP string
	Platform string
	Protocol string

	HTTPMethod string
	URL        string

	RequestSize  int64
	ResponseSize int64

	RequestTime  time.Time
	BackendTime  time.Duration
	OverheadTime time.Duration
	ResponseCode int

	AuthIssuer             string
	AuthAudience           string
	ConsumerProjectNumber  string

	// QuotaInfo maps metric name to the integer cost incurred by this
	// call, used only on the AllocateQuota path.
	QuotaInfo map[string]int64

	StartTime time.Time
	EndTime   time.Time

	Importance      Importance
	Labels          map[string]string
	MetricValueSets []MetricValueSet
	LogEntries      []LogEntry
}

// DeriveConsumerID implements the consumer-id derivation rule from the
// data model: "api_key:<K>" if an API key is present and valid,
// otherwise "project:<P>".
func DeriveConsumerID(apiKey string, apiKeyValid bool, projectID string) string {
	if apiKey != "" && apiKeyValid {
		return "api_key:" + apiKey
	}
	return "project:" + projectID
}

func (info *Info) consumerID() string {
	if info.ConsumerID != "" {
		return info.ConsumerID
	}
	return DeriveConsumerID(info.APIKey, info.APIKeyValid, info.ConsumerProjectNumber)
}

// ToOperation converts an Info into the Operation shape the aggregators
// operate on.
func (info *Info) ToOperation() *Operation {
	return &Operation{
		OperationID:     info.OperationID,
		OperationName:   info.OperationName,
		ConsumerID:      info.consumerID(),
		StartTime:       info.StartTime,
		EndTime:         info.EndTime,
		Importance:      info.Importance,
		Labels:          info.Labels,
		MetricValueSets: info.MetricValueSets,
		LogEntries:      info.LogEntries,
	}
}

// ToQuotaOperation builds a QuotaOperation from an Info's QuotaInfo map,
// one MetricValueSet per metric with a single int64 DELTA value. Metric
// names are sorted before building sets -- map iteration order is
// unspecified, and FingerprintOperation hashes sets in the order given,
// so an unsorted build would make the fingerprint of a multi-metric
// operation unstable across calls.
func (info *Info) ToQuotaOperation() *QuotaOperation {
	names := make([]string, 0, len(info.QuotaInfo))
	for name := range info.QuotaInfo {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]MetricValueSet, 0, len(names))
	for _, name := range names {
		sets = append(sets, MetricValueSet{
			MetricName: name,
			Values:     []*MetricValue{{Value: Int64Value(info.QuotaInfo[name])}},
		})
	}
	return &QuotaOperation{
		OperationID:     info.OperationID,
		OperationName:   info.OperationName,
		ConsumerID:      info.consumerID(),
		Labels:          info.Labels,
		MetricValueSets: sets,
	}
}
