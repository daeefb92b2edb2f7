package control

import (
	"bytes"
	"sort"

	"github.com/zeebo/xxh3"
)

// Fingerprint is a stable 128-bit signature over an operation's identity:
// method name, consumer, labels, metric names/label-sets, and (for
// quota/check) the currency codes of any money-valued metrics. Two
// operations differing only in metric numeric values, timestamps, or
// OperationID hash to the same Fingerprint; differences in method,
// consumer, labels, metric names, metric-label sets, or currency codes
// always change it.
type Fingerprint [16]byte

func fingerprintOf(buf *bytes.Buffer) Fingerprint {
	sum := xxh3.Hash128(buf.Bytes())
	return Fingerprint(sum.Bytes())
}

func writeField(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

// writeLabelRecipe writes sorted-by-key "k\x00v\x00" pairs, the recipe
// shared by the top-level labels step and each MetricValue's own labels.
func writeLabelRecipe(buf *bytes.Buffer, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(buf, k)
		writeField(buf, labels[k])
	}
}

func writeMetricValueSets(buf *bytes.Buffer, sets []MetricValueSet) {
	for _, set := range sets {
		writeField(buf, set.MetricName)
		for _, v := range set.Values {
			writeLabelRecipe(buf, v.Labels)
			if money, ok := v.Value.(MoneyValue); ok {
				buf.WriteByte(0)
				buf.WriteString(money.CurrencyCode)
			}
		}
	}
}

// FingerprintOperation computes the Check/AllocateQuota fingerprint of a
// method name, consumer id, label set, and metric-value sets, optionally
// folding in a check request's canonical quota-properties text.
func FingerprintOperation(methodName, consumerID string, labels map[string]string, sets []MetricValueSet, quotaProperties string) Fingerprint {
	var buf bytes.Buffer
	writeField(&buf, methodName)
	writeField(&buf, consumerID)
	writeLabelRecipe(&buf, labels)
	writeMetricValueSets(&buf, sets)
	if quotaProperties != "" {
		writeField(&buf, quotaProperties)
	}
	buf.WriteByte(0)
	return fingerprintOf(&buf)
}

// FingerprintQuotaOperation computes the fingerprint of a QuotaOperation,
// the same recipe as FingerprintOperation.
func FingerprintQuotaOperation(op *QuotaOperation) Fingerprint {
	return FingerprintOperation(op.OperationName, op.ConsumerID, op.Labels, op.MetricValueSets, "")
}

// FingerprintCheckOperation computes the fingerprint of a check
// Operation plus its optional quota-properties text.
func FingerprintCheckOperation(op *Operation, quotaProperties string) Fingerprint {
	return FingerprintOperation(op.OperationName, op.ConsumerID, op.Labels, op.MetricValueSets, quotaProperties)
}

// FingerprintReportOperation computes the Report fingerprint, which
// (unlike Check/AllocateQuota) folds in only consumer id, operation
// name, and labels -- never the metric value sets. Ported from
// google/scc/aggregators/report_request.py's _sign_operation, which
// hashes consumerId, operationName, and labels only.
func FingerprintReportOperation(op *Operation) Fingerprint {
	var buf bytes.Buffer
	writeField(&buf, op.ConsumerID)
	writeField(&buf, op.OperationName)
	writeLabelRecipe(&buf, op.Labels)
	return fingerprintOf(&buf)
}
