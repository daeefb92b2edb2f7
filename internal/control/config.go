package control

import "time"

// CheckConfig configures the CheckAggregator's cache.
type CheckConfig struct {
	CacheEntries       int
	ResponseExpiration time.Duration
	FlushInterval      time.Duration
}

// QuotaConfig configures the QuotaAggregator's cache.
type QuotaConfig struct {
	CacheEntries  int
	Expiration    time.Duration
	FlushInterval time.Duration
}

// ReportConfig configures the ReportBatcher's cache. Reports have no
// expiration: the cache is pure LRU, bounded only by CacheEntries.
type ReportConfig struct {
	CacheEntries  int
	FlushInterval time.Duration
}

// AggregatorConfig bundles the three per-aggregator configs, mirroring
// the single JSON document read from ENDPOINTS_SERVER_CONFIG_FILE.
type AggregatorConfig struct {
	Check  CheckConfig
	Quota  QuotaConfig
	Report ReportConfig
}

// DefaultAggregatorConfig returns the hard-coded fallback used when
// ENDPOINTS_SERVER_CONFIG_FILE is unset, unreadable, or unparseable.
func DefaultAggregatorConfig() AggregatorConfig {
	cfg := AggregatorConfig{
		Check: CheckConfig{
			CacheEntries:       10000,
			ResponseExpiration: time.Second,
			FlushInterval:      500 * time.Millisecond,
		},
		Quota: QuotaConfig{
			CacheEntries:  1000,
			Expiration:    10 * time.Minute,
			FlushInterval: time.Second,
		},
		Report: ReportConfig{
			CacheEntries:  1000,
			FlushInterval: time.Second,
		},
	}
	cfg.Normalize()
	return cfg
}

// Normalize applies the one cross-field invariant the config must
// satisfy: a check response's expiration must outlive its flush
// interval, or every cached failing response would expire before the
// scheduler ever gets a chance to refresh it. Violations are silently
// promoted rather than rejected, per the configuration section.
func (c *AggregatorConfig) Normalize() {
	if c.Check.ResponseExpiration <= c.Check.FlushInterval {
		c.Check.ResponseExpiration = c.Check.FlushInterval + time.Millisecond
	}
}

// cachingEnabled reports whether caching is on for a CacheEntries count;
// zero or a negative count disables it (full passthrough).
func cachingEnabled(cacheEntries int) bool { return cacheEntries > 0 }
