package control

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MetricValue is a tagged union over the six value kinds a Service
// Control metric can carry. Exactly one of the Value variants is set;
// Labels/StartTime/EndTime are optional metadata shared by all variants.
type MetricValue struct {
	Value     MetricValueVariant
	Labels    map[string]string
	StartTime *time.Time
	EndTime   *time.Time
}

// MetricValueVariant is implemented by the six concrete value types a
// MetricValue can hold. It mirrors the oneof pattern generated code uses
// for protobuf sum types.
type MetricValueVariant interface {
	isMetricValueVariant()
}

type BoolValue bool
type Int64Value int64
type DoubleValue float64
type StringValue string
type MoneyValue Money

// DistributionValue wraps a *Distribution so it satisfies
// MetricValueVariant.
type DistributionValue struct{ *Distribution }

func (BoolValue) isMetricValueVariant()         {}
func (Int64Value) isMetricValueVariant()        {}
func (DoubleValue) isMetricValueVariant()       {}
func (StringValue) isMetricValueVariant()       {}
func (MoneyValue) isMetricValueVariant()        {}
func (DistributionValue) isMetricValueVariant() {}

// signature returns the string used to key MetricValues with the same
// metric name inside a single metric-value set: values with the same
// labels and (for money) the same currency code are combined, values
// with different labels/currency coexist side by side.
func (mv *MetricValue) signature() string {
	var b strings.Builder
	writeSortedLabels(&b, mv.Labels)
	if money, ok := mv.Value.(MoneyValue); ok {
		b.WriteByte(0)
		b.WriteString(money.CurrencyCode)
	}
	return b.String()
}

func writeSortedLabels(b *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(0)
		b.WriteString(labels[k])
		b.WriteByte(0)
	}
}

// MergeMetricValue combines src into dst according to kind, following
// google/scc/aggregators/metric_value.py's merge rules:
//
//   - DELTA: int64/double sum; money saturating-adds (clamped to int64
//     range on overflow); distribution merges bucket-wise; bool/string
//     cannot be combined as deltas and return an error.
//   - GAUGE/CUMULATIVE: keep whichever value has the later EndTime; ties
//     keep dst (the existing/prior value), matching the original's
//     "if prior.end_time < latest.end_time: return latest else prior".
func MergeMetricValue(dst, src *MetricValue, kind MetricKind) (*MetricValue, error) {
	switch kind {
	case MetricKindGauge, MetricKindCumulative:
		return mergeLatestWins(dst, src), nil
	default:
		return mergeDelta(dst, src)
	}
}

func mergeLatestWins(dst, src *MetricValue) *MetricValue {
	dstEnd := timeOrZero(dst.EndTime)
	srcEnd := timeOrZero(src.EndTime)
	if dstEnd.Before(srcEnd) {
		return src
	}
	return dst
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func mergeDelta(dst, src *MetricValue) (*MetricValue, error) {
	merged := &MetricValue{
		Labels:    dst.Labels,
		StartTime: earlier(dst.StartTime, src.StartTime),
		EndTime:   later(dst.EndTime, src.EndTime),
	}

	switch a := dst.Value.(type) {
	case Int64Value:
		b, ok := src.Value.(Int64Value)
		if !ok {
			return nil, PreconditionError("metric_value: cannot merge int64 with a different variant")
		}
		merged.Value = a + b
	case DoubleValue:
		b, ok := src.Value.(DoubleValue)
		if !ok {
			return nil, PreconditionError("metric_value: cannot merge double with a different variant")
		}
		merged.Value = a + b
	case MoneyValue:
		b, ok := src.Value.(MoneyValue)
		if !ok {
			return nil, PreconditionError("metric_value: cannot merge money with a different variant")
		}
		sum, err := AddMoney(Money(a), Money(b), true)
		if err != nil {
			return nil, err
		}
		merged.Value = MoneyValue(sum)
	case DistributionValue:
		b, ok := src.Value.(DistributionValue)
		if !ok {
			return nil, PreconditionError("metric_value: cannot merge distribution with a different variant")
		}
		combined := *a.Distribution
		combined.BucketCounts = append([]int64(nil), a.BucketCounts...)
		if err := MergeDistribution(&combined, b.Distribution); err != nil {
			return nil, err
		}
		merged.Value = DistributionValue{&combined}
	case BoolValue, StringValue:
		return nil, PreconditionError(fmt.Sprintf("metric_value: %T cannot be merged as a DELTA", dst.Value))
	default:
		return nil, PreconditionError("metric_value: unknown value variant")
	}

	return merged, nil
}

func earlier(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	default:
		return a
	}
}

func later(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
