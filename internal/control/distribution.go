package control

import "math"

// Distribution is an exponential-bucket histogram plus the running
// moments (mean, sum of squared deviation) needed to merge two
// distributions without access to the original samples.
//
// Bucket 0 is the underflow bucket (values < Scale), bucket
// len(BucketCounts)-1 is the overflow bucket (values >=
// Scale*GrowthFactor^(NumBuckets-2)), and the buckets in between have
// exponentially growing width: bucket i covers
// [Scale*GrowthFactor^(i-1), Scale*GrowthFactor^i).
type Distribution struct {
	NumBuckets   int32
	GrowthFactor float64
	Scale        float64

	BucketCounts []int64

	Count                 int64
	Mean                  float64
	SumOfSquaredDeviation float64
	Minimum               float64
	Maximum               float64
}

// NewDistribution allocates a zeroed Distribution with the given
// exponential bucketing parameters.
func NewDistribution(numBuckets int32, growthFactor, scale float64) *Distribution {
	return &Distribution{
		NumBuckets:   numBuckets,
		GrowthFactor: growthFactor,
		Scale:        scale,
		BucketCounts: make([]int64, numBuckets),
		Minimum:      math.Inf(1),
		Maximum:      math.Inf(-1),
	}
}

// bucketFor returns the index of the bucket that value falls into.
func (d *Distribution) bucketFor(value float64) int {
	last := int(d.NumBuckets) - 1
	finite := last - 1 // number of finite buckets, indices 1..finite
	if finite < 1 || value < d.Scale {
		return 0
	}
	idx := 1 + int(math.Floor(math.Log(value/d.Scale)/math.Log(d.GrowthFactor)))
	// Floating point log can be off by one at exact boundaries; nudge
	// into the correct bucket by comparing against the real bounds.
	for idx > 1 && d.Scale*math.Pow(d.GrowthFactor, float64(idx-1)) > value {
		idx--
	}
	for idx < finite && d.Scale*math.Pow(d.GrowthFactor, float64(idx)) <= value {
		idx++
	}
	if idx > finite {
		return last
	}
	if idx < 1 {
		return 1
	}
	return idx
}

// AddSample records value into the distribution's bucket counts and
// running moments.
func (d *Distribution) AddSample(value float64) {
	d.Count++
	delta := value - d.Mean
	d.Mean += delta / float64(d.Count)
	d.SumOfSquaredDeviation += delta * (value - d.Mean)

	if value < d.Minimum {
		d.Minimum = value
	}
	if value > d.Maximum {
		d.Maximum = value
	}

	idx := d.bucketFor(value)
	if idx >= 0 && idx < len(d.BucketCounts) {
		d.BucketCounts[idx]++
	}
}

// compatible reports whether d and other share bucketing parameters and
// can be merged.
func (d *Distribution) compatible(other *Distribution) bool {
	return d.NumBuckets == other.NumBuckets &&
		d.GrowthFactor == other.GrowthFactor &&
		d.Scale == other.Scale &&
		len(d.BucketCounts) == len(other.BucketCounts)
}

// MergeDistribution combines other into d in place, using the parallel
// (Chan et al.) mean/variance recurrence so the merge needs only the
// running moments, never the original samples.
func MergeDistribution(d, other *Distribution) error {
	if !d.compatible(other) {
		return PreconditionError("distribution: incompatible bucketing parameters")
	}
	if other.Count == 0 {
		return nil
	}
	if d.Count == 0 {
		d.Count = other.Count
		d.Mean = other.Mean
		d.SumOfSquaredDeviation = other.SumOfSquaredDeviation
		d.Minimum = other.Minimum
		d.Maximum = other.Maximum
		copy(d.BucketCounts, other.BucketCounts)
		return nil
	}

	nA, nB := float64(d.Count), float64(other.Count)
	delta := other.Mean - d.Mean
	newCount := d.Count + other.Count
	d.Mean += delta * nB / float64(newCount)
	d.SumOfSquaredDeviation += other.SumOfSquaredDeviation + delta*delta*nA*nB/float64(newCount)
	d.Count = newCount

	for i := range d.BucketCounts {
		d.BucketCounts[i] += other.BucketCounts[i]
	}
	if other.Minimum < d.Minimum {
		d.Minimum = other.Minimum
	}
	if other.Maximum > d.Maximum {
		d.Maximum = other.Maximum
	}
	return nil
}
