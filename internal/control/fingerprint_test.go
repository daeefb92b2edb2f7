package control

import "testing"

func TestFingerprintOperation_StableAcrossNumericValuesAndTimestamps(t *testing.T) {
	labels := map[string]string{"region": "us-east1"}
	sets := func(cost int64) []MetricValueSet {
		return []MetricValueSet{{MetricName: "requests", Values: []*MetricValue{{Value: Int64Value(cost)}}}}
	}

	a := FingerprintOperation("compute.get", "project:p1", labels, sets(1), "")
	b := FingerprintOperation("compute.get", "project:p1", labels, sets(99), "")

	if a != b {
		t.Fatalf("expected fingerprints to match despite differing metric values: %x vs %x", a, b)
	}
}

func TestFingerprintOperation_SensitiveToLabelsAndMethod(t *testing.T) {
	base := FingerprintOperation("compute.get", "project:p1", map[string]string{"region": "us-east1"}, nil, "")

	cases := map[string]Fingerprint{
		"different method":   FingerprintOperation("compute.list", "project:p1", map[string]string{"region": "us-east1"}, nil, ""),
		"different consumer": FingerprintOperation("compute.get", "project:p2", map[string]string{"region": "us-east1"}, nil, ""),
		"different label":    FingerprintOperation("compute.get", "project:p1", map[string]string{"region": "eu-west1"}, nil, ""),
	}

	for name, fp := range cases {
		if fp == base {
			t.Errorf("%s: expected a different fingerprint, got the same one", name)
		}
	}
}

func TestFingerprintOperation_SensitiveToCurrencyCode(t *testing.T) {
	usd := []MetricValueSet{{MetricName: "cost", Values: []*MetricValue{{Value: MoneyValue{CurrencyCode: "USD", Units: 1}}}}}
	eur := []MetricValueSet{{MetricName: "cost", Values: []*MetricValue{{Value: MoneyValue{CurrencyCode: "EUR", Units: 1}}}}}

	a := FingerprintOperation("m", "c", nil, usd, "")
	b := FingerprintOperation("m", "c", nil, eur, "")

	if a == b {
		t.Fatal("expected different currency codes to produce different fingerprints")
	}
}

func TestInfo_ToQuotaOperation_MultiMetricFingerprintIsStable(t *testing.T) {
	info := &Info{
		OperationName: "compute.get",
		ConsumerID:    "project:p1",
		QuotaInfo: map[string]int64{
			"reads":  1,
			"writes": 2,
			"calls":  3,
		},
	}

	var first Fingerprint
	for i := 0; i < 20; i++ {
		op := info.ToQuotaOperation()
		fp := FingerprintOperation(op.OperationName, op.ConsumerID, op.Labels, op.MetricValueSets, "")
		if i == 0 {
			first = fp
			continue
		}
		if fp != first {
			t.Fatalf("iteration %d: fingerprint changed across repeated ToQuotaOperation calls on the same Info (map iteration order leaking through): %x vs %x", i, fp, first)
		}
	}
}

func TestFingerprintReportOperation_IgnoresMetricValueSets(t *testing.T) {
	base := &Operation{ConsumerID: "c1", OperationName: "m1", Labels: map[string]string{"k": "v"}}
	withMetrics := &Operation{
		ConsumerID:    "c1",
		OperationName: "m1",
		Labels:        map[string]string{"k": "v"},
		MetricValueSets: []MetricValueSet{
			{MetricName: "requests", Values: []*MetricValue{{Value: Int64Value(5)}}},
		},
	}

	if FingerprintReportOperation(base) != FingerprintReportOperation(withMetrics) {
		t.Fatal("report fingerprint must ignore metric value sets")
	}
}
