package control

// PreconditionError signals a malformed request, a service-name mismatch,
// or a missing required field. Precondition failures never touch a
// cache: they are returned immediately to the caller.
//
// Modeled on metering.meteringError in the gateway's metering package.
type PreconditionError string

func (e PreconditionError) Error() string { return string(e) }

// NoCacheError signals that the targeted aggregator has caching disabled
// (cacheEntries <= 0). It is not a fault: callers should treat it as a
// passthrough signal and issue the RPC themselves.
type NoCacheError string

func (e NoCacheError) Error() string { return string(e) }

// TransportError wraps a failure returned by a Transport call. The core
// never surfaces these to its caller: it logs them and falls open per
// the error-handling policy, but TransportError is defined so the
// flusher and the inline scheduler's direct-path fallback can recognize
// and count them distinctly from precondition errors.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "control: transport " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }
