package control

import (
	"math"
	"testing"
)

func TestDistribution_AddSampleUpdatesMoments(t *testing.T) {
	d := NewDistribution(8, 10.0, 1.0)
	d.AddSample(1.5)
	d.AddSample(150.0)

	if d.Count != 2 {
		t.Fatalf("count = %d, want 2", d.Count)
	}
	if d.Minimum != 1.5 {
		t.Fatalf("min = %v, want 1.5", d.Minimum)
	}
	if d.Maximum != 150.0 {
		t.Fatalf("max = %v, want 150.0", d.Maximum)
	}

	var total int64
	var nonEmptyBuckets int
	for _, c := range d.BucketCounts {
		total += c
		if c > 0 {
			nonEmptyBuckets++
		}
	}
	if total != 2 {
		t.Fatalf("bucket counts sum to %d, want 2", total)
	}
	if nonEmptyBuckets < 2 {
		t.Fatalf("expected 1.5 and 150.0 to land in different buckets, both landed in the same one")
	}
}

func TestDistribution_MergeCombinesMomentsAndBuckets(t *testing.T) {
	a := NewDistribution(8, 10.0, 1.0)
	a.AddSample(2.0)
	a.AddSample(3.0)

	b := NewDistribution(8, 10.0, 1.0)
	b.AddSample(200.0)

	if err := MergeDistribution(a, b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Count != 3 {
		t.Fatalf("count = %d, want 3", a.Count)
	}
	wantMean := (2.0 + 3.0 + 200.0) / 3.0
	if math.Abs(a.Mean-wantMean) > 1e-9 {
		t.Fatalf("mean = %v, want %v", a.Mean, wantMean)
	}
	if a.Maximum != 200.0 {
		t.Fatalf("max = %v, want 200.0", a.Maximum)
	}
}

func TestDistribution_MergeRejectsIncompatibleBucketing(t *testing.T) {
	a := NewDistribution(8, 10.0, 1.0)
	b := NewDistribution(16, 10.0, 1.0)
	a.AddSample(1.0)
	b.AddSample(1.0)

	if err := MergeDistribution(a, b); err == nil {
		t.Fatal("expected an error merging distributions with different bucket counts")
	}
}
