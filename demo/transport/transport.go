// Package transport provides a reference implementation of
// control.Transport, answering Check/AllocateQuota/Report against an
// internal/store.Store instead of a real Service Control backend. It
// exists so the sidecar is runnable end-to-end without a live backend
// dependency, the same role the teacher's in-memory provider stubs play
// in its own integration tests.
package transport

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/alfred-dev/control-sidecar/internal/control"
	"github.com/alfred-dev/control-sidecar/internal/store"
)

// StoreBackedTransport implements control.Transport against a
// store.Store holding project billing/key/quota state.
type StoreBackedTransport struct {
	store store.Store
	log   zerolog.Logger
}

// New constructs a StoreBackedTransport.
func New(st store.Store, log zerolog.Logger) *StoreBackedTransport {
	return &StoreBackedTransport{store: st, log: log.With().Str("component", "demo-transport").Logger()}
}

func projectIDFromConsumer(consumerID string) string {
	// ConsumerID is either "api_key:<key>" or "project:<id>"; the demo
	// store is keyed by project id, so api_key consumers fall back to
	// using the key itself as their project bucket.
	for i := 0; i < len(consumerID); i++ {
		if consumerID[i] == ':' {
			return consumerID[i+1:]
		}
	}
	return consumerID
}

// Check evaluates the operation's consumer against the store's project
// record, reporting deletion and inactive billing as CheckErrors. API-key
// validity is not checked.
func (t *StoreBackedTransport) Check(ctx context.Context, req *control.CheckRequest) (*control.CheckResponse, error) {
	resp := &control.CheckResponse{OperationID: req.Operation.OperationID}

	projectID := projectIDFromConsumer(req.Operation.ConsumerID)
	rec, err := t.store.GetProject(ctx, projectID)
	if err != nil {
		// Unknown projects are allowed through in this reference
		// implementation; a real backend would deny them.
		return resp, nil
	}
	if rec.Deleted {
		resp.CheckErrors = append(resp.CheckErrors, control.CheckError{Code: control.CheckErrorProjectDeleted, Detail: projectID})
	}
	if !rec.BillingActive {
		resp.CheckErrors = append(resp.CheckErrors, control.CheckError{Code: control.CheckErrorBillingDisabled, Detail: projectID})
	}
	return resp, nil
}

// AllocateQuota debits the requested cost from the store's running usage
// counters and denies the call once a configured limit is exceeded.
func (t *StoreBackedTransport) AllocateQuota(ctx context.Context, req *control.AllocateQuotaRequest) (*control.AllocateQuotaResponse, error) {
	resp := &control.AllocateQuotaResponse{OperationID: req.QuotaOperation.OperationID}
	projectID := projectIDFromConsumer(req.QuotaOperation.ConsumerID)

	rec, err := t.store.GetProject(ctx, projectID)
	if err != nil {
		return resp, nil
	}

	for _, set := range req.QuotaOperation.MetricValueSets {
		if len(set.Values) == 0 {
			continue
		}
		cost, ok := set.Values[0].Value.(control.Int64Value)
		if !ok {
			continue
		}
		limit, hasLimit := rec.QuotaLimits[set.MetricName]
		used, incrErr := t.store.IncrQuotaUsage(ctx, projectID, set.MetricName, int64(cost))
		if incrErr != nil {
			return nil, incrErr
		}
		if hasLimit && used > limit {
			resp.AllocateErrors = append(resp.AllocateErrors, control.QuotaError{
				Code:    control.QuotaErrorResourceExhausted,
				Subject: set.MetricName,
			})
		}
	}
	return resp, nil
}

// Report accepts a batch unconditionally; a real backend would persist
// it for billing and analytics.
func (t *StoreBackedTransport) Report(ctx context.Context, req *control.ReportRequest) error {
	t.log.Debug().Int("operations", len(req.Operations)).Msg("report batch accepted")
	return nil
}
