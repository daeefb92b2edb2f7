package control

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type facadeState int32

const (
	stateNew facadeState = iota
	stateRunning
	stateStopped
)

const (
	checkTaskPriority  = 2
	quotaTaskPriority  = 2
	reportTaskPriority = 1
)

// Facade is the public entry point: Check, AllocateQuota, and Report,
// backed by the three aggregators and driven by a single background
// flusher. It implements the NEW -> RUNNING -> STOPPED lifecycle from
// endpoints_management/control/client.py's Client class.
type Facade struct {
	serviceName string
	transport   Transport
	check       *CheckAggregator
	quota       *QuotaAggregator
	report      *ReportBatcher
	log         zerolog.Logger
	now         func() time.Time
	launch      func(func()) error

	mu     sync.Mutex
	state  facadeState
	inline bool
	stopCh chan struct{}
	doneCh chan struct{}
	queue  *taskQueue
}

// FacadeOption configures a Facade at construction.
type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	now       func() time.Time
	log       zerolog.Logger
	launch    func(func()) error
	noCache   bool
}

// WithClock injects a fake clock, letting tests control TTL and
// flush-interval boundaries deterministically.
func WithClock(now func() time.Time) FacadeOption {
	return func(o *facadeOptions) { o.now = now }
}

// WithLogger injects a structured logger.
func WithLogger(log zerolog.Logger) FacadeOption {
	return func(o *facadeOptions) { o.log = log }
}

// WithLaunch injects the scheduler's background-thread factory. Returning
// an error from launch simulates thread-creation failure, exercising the
// inline-scheduler degraded mode described in the design notes ("Global
// thread class override -> inject a scheduler factory at construction").
func WithLaunch(launch func(func()) error) FacadeOption {
	return func(o *facadeOptions) { o.launch = launch }
}

// WithNoCache forces every aggregator's cache off regardless of what the
// supplied AggregatorConfig says, mirroring the original client's
// NO_CACHE loader mode.
func WithNoCache() FacadeOption {
	return func(o *facadeOptions) { o.noCache = true }
}

// NewFacade constructs a Facade in the NEW state; Start must be called
// before Check/AllocateQuota/Report will work.
func NewFacade(serviceName string, transport Transport, cfg AggregatorConfig, kinds KindMap, opts ...FacadeOption) *Facade {
	o := &facadeOptions{
		now:    time.Now,
		log:    zerolog.Nop(),
		launch: func(fn func()) error { go fn(); return nil },
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg.Normalize()
	if o.noCache {
		cfg.Check.CacheEntries = -1
		cfg.Quota.CacheEntries = -1
		cfg.Report.CacheEntries = -1
	}

	return &Facade{
		serviceName: serviceName,
		transport:   transport,
		check:       NewCheckAggregator(serviceName, cfg.Check, kinds, o.now, o.log),
		quota:       NewQuotaAggregator(serviceName, cfg.Quota, o.now, o.log),
		report:      NewReportBatcher(serviceName, cfg.Report, kinds, o.now, o.log),
		log:         o.log,
		now:         o.now,
		launch:      o.launch,
		state:       stateNew,
	}
}

// Start transitions NEW -> RUNNING, seeding the scheduler's priority
// queue with the three self-rescheduling flush tasks and launching the
// background flusher. Start is idempotent once RUNNING; it fails once
// STOPPED, since STOPPED is terminal.
func (f *Facade) Start() error {
	f.mu.Lock()
	switch f.state {
	case stateRunning:
		f.mu.Unlock()
		return nil
	case stateStopped:
		f.mu.Unlock()
		return PreconditionError("facade: cannot Start a stopped facade")
	}

	f.state = stateRunning
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.queue = newTaskQueue()

	now := f.now()
	f.queue.insert(&scheduledTask{due: now, priority: checkTaskPriority, run: f.runCheckFlush})
	f.queue.insert(&scheduledTask{due: now, priority: quotaTaskPriority, run: f.runQuotaFlush})
	f.queue.insert(&scheduledTask{due: now, priority: reportTaskPriority, run: f.runReportFlush})
	f.mu.Unlock()

	if err := f.launch(f.runLoop); err != nil {
		f.log.Warn().Err(err).Msg("background flusher thread failed to start, degrading to inline scheduler")
		f.mu.Lock()
		f.inline = true
		close(f.doneCh)
		f.mu.Unlock()
	}
	return nil
}

// Stop transitions RUNNING -> STOPPED. It synchronously flushes all
// pending reports best-effort, clears the check and report caches, and
// signals the background flusher to exit. On a facade that was never
// started it moves straight to STOPPED without flushing anything; on a
// stopped facade it is a no-op.
func (f *Facade) Stop() error {
	f.mu.Lock()
	if f.state != stateRunning {
		f.state = stateStopped
		f.mu.Unlock()
		return nil
	}
	f.state = stateStopped
	close(f.stopCh)
	running := !f.inline
	f.mu.Unlock()

	// Drained report batches are independent of one another, so ship them
	// concurrently rather than serially blocking shutdown on each RPC.
	var g errgroup.Group
	for _, req := range f.report.Clear() {
		req := req
		g.Go(func() error {
			if err := f.transport.Report(context.Background(), req); err != nil {
				f.log.Error().Err(err).Int("operations", len(req.Operations)).Msg("report drain on shutdown failed, dropping batch")
			}
			return nil
		})
	}
	_ = g.Wait()
	f.check.Clear()

	if running {
		<-f.doneCh
	}
	return nil
}

func (f *Facade) requireStarted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == stateNew {
		return PreconditionError("facade: Start must be called before use")
	}
	return nil
}

// Check performs admission control for one call. A cache hit returns
// immediately; a miss issues a synchronous Check RPC so the caller
// always gets an answer, caching the result for subsequent calls.
func (f *Facade) Check(ctx context.Context, info *Info) (*CheckResponse, error) {
	if err := f.requireStarted(); err != nil {
		return nil, err
	}
	if info == nil || info.OperationName == "" {
		return nil, PreconditionError("facade: Check requires an operation name")
	}
	req := &CheckRequest{ServiceName: f.serviceName, Operation: info.ToOperation()}
	if req.ServiceName == "" {
		return nil, PreconditionError("facade: Check requires a service name")
	}

	if resp, hit := f.check.Check(req); hit {
		return resp, nil
	}

	resp, err := f.transport.Check(ctx, req)
	if err != nil {
		f.log.Error().Err(err).Str("operation_name", req.Operation.OperationName).Msg("check RPC failed, failing open")
		return &CheckResponse{OperationID: req.Operation.OperationID}, nil
	}
	f.check.AddResponse(req, resp)
	return resp, nil
}

// AllocateQuota consumes quota for one call. When caching is enabled the
// first call for a fingerprint gets an optimistic positive response
// while the real allocation happens in the background; otherwise the
// allocation is synchronous.
func (f *Facade) AllocateQuota(ctx context.Context, info *Info) (*AllocateQuotaResponse, error) {
	if err := f.requireStarted(); err != nil {
		return nil, err
	}
	if info == nil || info.OperationName == "" {
		return nil, PreconditionError("facade: AllocateQuota requires an operation name")
	}
	req := &AllocateQuotaRequest{ServiceName: f.serviceName, QuotaOperation: info.ToQuotaOperation()}
	if req.ServiceName == "" {
		return nil, PreconditionError("facade: AllocateQuota requires a service name")
	}

	if resp, hit := f.quota.AllocateQuota(req); hit {
		return resp, nil
	}

	req.QuotaOperation.QuotaMode = QuotaModeNormal
	resp, err := f.transport.AllocateQuota(ctx, req)
	if err != nil {
		f.log.Error().Err(err).Str("operation_name", req.QuotaOperation.OperationName).Msg("allocate quota RPC failed, failing open")
		return &AllocateQuotaResponse{OperationID: req.QuotaOperation.OperationID}, nil
	}
	return resp, nil
}

// Report records the outcome of one call. In the inline-scheduler
// degraded mode, Report opportunistically drains any due flush tasks
// synchronously before handling its own request.
func (f *Facade) Report(ctx context.Context, info *Info) error {
	if err := f.requireStarted(); err != nil {
		return err
	}
	if info == nil || info.OperationName == "" {
		return PreconditionError("facade: Report requires an operation name")
	}

	f.mu.Lock()
	inline := f.inline
	f.mu.Unlock()
	if inline {
		f.runDueTasks(f.now())
	}

	req := &ReportRequest{ServiceName: f.serviceName, Operations: []*Operation{info.ToOperation()}}
	if req.ServiceName == "" {
		return PreconditionError("facade: Report requires a service name")
	}

	if outcome := f.report.Report(req); outcome == ReportCachedOK {
		return nil
	}

	if err := f.transport.Report(ctx, req); err != nil {
		f.log.Error().Err(err).Msg("report RPC failed, dropping operation")
	}
	return nil
}

func (f *Facade) runLoop() {
	defer close(f.doneCh)
	for {
		f.mu.Lock()
		due, ok := f.queue.nextDue()
		f.mu.Unlock()

		var wait <-chan time.Time
		if ok {
			d := due.Sub(f.now())
			if d < 0 {
				d = 0
			}
			wait = time.After(d)
		}

		select {
		case <-f.stopCh:
			return
		case <-wait:
			f.runDueTasks(f.now())
		}
	}
}

func (f *Facade) runDueTasks(now time.Time) {
	for {
		f.mu.Lock()
		task := f.queue.popDue(now)
		f.mu.Unlock()
		if task == nil {
			return
		}
		task.run(now)
	}
}

func (f *Facade) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == stateStopped
}

func (f *Facade) reschedule(t *scheduledTask) {
	f.mu.Lock()
	if f.queue != nil {
		f.queue.insert(t)
	}
	f.mu.Unlock()
}

func (f *Facade) runCheckFlush(now time.Time) {
	if f.isStopped() {
		f.check.Clear()
		return
	}
	interval := f.check.FlushInterval()
	if interval <= 0 {
		return
	}
	for _, req := range f.check.Flush() {
		resp, err := f.transport.Check(context.Background(), req)
		if err != nil {
			f.log.Error().Err(err).Str("operation_name", req.Operation.OperationName).Msg("scheduled check flush failed, no response cached")
			continue
		}
		f.check.AddResponse(req, resp)
	}
	f.reschedule(&scheduledTask{due: now.Add(interval), priority: checkTaskPriority, run: f.runCheckFlush})
}

func (f *Facade) runQuotaFlush(now time.Time) {
	if f.isStopped() {
		f.quota.Clear()
		return
	}
	interval := f.quota.FlushInterval()
	if interval <= 0 {
		return
	}
	for _, req := range f.quota.Flush() {
		resp, err := f.transport.AllocateQuota(context.Background(), req)
		if err != nil {
			f.log.Error().Err(err).Str("operation_name", req.QuotaOperation.OperationName).Msg("scheduled quota flush failed, failing open")
			resp = &AllocateQuotaResponse{OperationID: req.QuotaOperation.OperationID}
		}
		f.quota.AddResponse(req, resp)
	}
	f.reschedule(&scheduledTask{due: now.Add(interval), priority: quotaTaskPriority, run: f.runQuotaFlush})
}

func (f *Facade) runReportFlush(now time.Time) {
	if f.isStopped() {
		f.report.Clear()
		return
	}
	interval := f.report.FlushInterval()
	if interval <= 0 {
		return
	}
	for _, req := range f.report.Flush() {
		if err := f.transport.Report(context.Background(), req); err != nil {
			f.log.Error().Err(err).Int("operations", len(req.Operations)).Msg("scheduled report flush failed, dropping batch")
		}
	}
	f.reschedule(&scheduledTask{due: now.Add(interval), priority: reportTaskPriority, run: f.runReportFlush})
}
