package iotcore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// QueueMax and WorkerThreads are the dispatcher's build-time bounds,
// §3.6/§4.6.1. A SINGLE_THREAD deployment starts no workers and drains the
// queue cooperatively from LoopIteration instead of a pool.
const (
	QueueMax       = 64
	WorkerThreads  = 4
	defaultTimeout = 30 * time.Second

	// commandLineMax is the PATH_MAX-sized whole-command-line buffer bound
	// of §4.6.3: the rendered "--name=value" argv, joined, must fit within
	// it.
	commandLineMax = 4096
	// commandOutputMax truncates a command action's captured stdout/stderr
	// to their first N bytes, §4.6.2 step 4.
	commandOutputMax = 1024
)

// RequestResult is what a dispatched request resolves to: the action's
// output options plus the Status it completed (or failed) with.
type RequestResult struct {
	Options *OptionsMap
	Status  Status
}

// request is one queued invocation of an action.
type request struct {
	action   *Action
	params   *OptionsMap
	ctx      context.Context
	resultCh chan RequestResult
}

// Dispatcher is the fixed-capacity request queue plus worker pool of
// §4.6.1. Requests are served FIFO; EXCLUSIVE_APP and EXCLUSIVE_DEVICE
// actions (the latter implies the former, normalized at registration) take
// the dispatcher-wide write lock, blocking every other request, while
// ordinary actions take the read lock and so run concurrently with one
// another.
type Dispatcher struct {
	lib *Library

	queue chan *request
	excl  sync.RWMutex

	group   *errgroup.Group
	quit    chan struct{}
	started bool
	mu      sync.Mutex

	singleThread bool
}

func newDispatcher(lib *Library, singleThread bool) *Dispatcher {
	return &Dispatcher{
		lib:          lib,
		queue:        make(chan *request, QueueMax),
		quit:         make(chan struct{}),
		singleThread: singleThread,
	}
}

// Start launches the worker pool as a bounded errgroup, one goroutine per
// IOT_WORKER_THREADS slot, §4.6.1. In single-threaded mode it is a no-op:
// callers drain the queue themselves via LoopIteration.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.singleThread {
		d.started = true
		return
	}
	d.started = true
	d.group = &errgroup.Group{}
	for i := 0; i < WorkerThreads; i++ {
		d.group.Go(d.worker)
	}
}

// Stop signals every worker to exit after draining in-flight work, and
// waits for them to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	group := d.group
	d.mu.Unlock()

	close(d.quit)
	close(d.queue)
	if group != nil {
		_ = group.Wait()
	}
}

func (d *Dispatcher) worker() error {
	for req := range d.queue {
		d.execute(req)
	}
	return nil
}

// LoopIteration processes at most one queued request and reports whether
// one was processed; it is the SINGLE_THREAD cooperative equivalent of a
// worker pulling one item, §5's loop_iteration.
func (d *Dispatcher) LoopIteration() bool {
	select {
	case req, ok := <-d.queue:
		if !ok {
			return false
		}
		d.execute(req)
		return true
	default:
		return false
	}
}

// Dispatch enqueues an invocation of the named action with params and
// blocks until it completes or ctx is cancelled. Submission itself can fail
// with Full (queue at capacity) or NotFound (unknown action) before any
// queuing happens.
func (d *Dispatcher) Dispatch(ctx context.Context, actionName string, params *OptionsMap) (*OptionsMap, error) {
	action, err := d.lib.Actions.Lookup(actionName)
	if err != nil {
		return nil, err
	}
	if err := validateParameters(action, params); err != nil {
		return nil, err
	}

	req := &request{
		action:   action,
		params:   params,
		ctx:      ctx,
		resultCh: make(chan RequestResult, 1),
	}

	select {
	case d.queue <- req:
	default:
		return nil, Full
	}

	if d.singleThread {
		// Cooperative mode never drains on its own; the caller must be
		// pumping LoopIteration concurrently, or this blocks until it does.
	}

	select {
	case res := <-req.resultCh:
		if !res.Status.OK() {
			return res.Options, res.Status
		}
		return res.Options, nil
	case <-ctx.Done():
		return nil, withMessage(TimedOut, "request for action %q: %v", actionName, ctx.Err())
	}
}

// validateParameters checks every IN_REQUIRED parameter is present, that
// every supplied IN value basic-converts to its parameter's declared type,
// and that no unknown parameter name was supplied, §4.6.2 step 1.
func validateParameters(a *Action, params *OptionsMap) error {
	claimed := make(map[string]bool, len(a.Parameters))
	for _, p := range a.Parameters {
		claimed[strings.ToLower(p.Name)] = true
		if !p.Direction.IsInput() {
			continue
		}

		var v Value
		var hasValue bool
		if params != nil {
			if got, err := params.GetRaw(p.Name); err == nil {
				v, hasValue = got, got.HasValue()
			}
		}
		if !hasValue {
			if p.Direction.IsRequired() {
				return withMessage(BadRequest, "missing required parameter %q", p.Name)
			}
			continue
		}
		if !v.ConvertCheck(ConvertBasic, p.DeclaredType) {
			return withMessage(BadRequest, "parameter %q is %s, expected %s", p.Name, v.Type(), p.DeclaredType)
		}
	}

	if params != nil {
		for _, name := range params.Names() {
			if !claimed[strings.ToLower(name)] {
				return withMessage(BadRequest, "unknown parameter %q for action %q", name, a.Name)
			}
		}
	}
	return nil
}

// validateOutputs checks, after a successful execution, that every
// OUT_REQUIRED parameter was actually returned with a value, §4.6.2 step 5.
func validateOutputs(a *Action, opts *OptionsMap) error {
	for _, p := range a.Parameters {
		if p.Direction != DirOutRequired {
			continue
		}
		if opts == nil {
			return withMessage(BadRequest, "required output parameter %q missing", p.Name)
		}
		v, err := opts.GetRaw(p.Name)
		if err != nil || !v.HasValue() {
			return withMessage(BadRequest, "required output parameter %q missing", p.Name)
		}
	}
	return nil
}

// execute runs req to completion, taking whichever exclusivity lock its
// action demands, applying the time limit, and fanning the result through
// the plugin pipeline before replying on resultCh.
func (d *Dispatcher) execute(req *request) {
	a := req.action
	start := time.Now()
	d.lib.Metrics.SetQueueDepth(len(d.queue))

	unlock := d.lockFor(a)
	defer unlock()

	ctx := req.ctx
	var cancel context.CancelFunc
	if !a.hasFlag(FlagNoTimeLimit) {
		limit := defaultTimeout
		if a.TimeLimitMs > 0 {
			limit = time.Duration(a.TimeLimitMs) * time.Millisecond
		}
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	deadline := NewDeadline(a.TimeLimitMs)
	item := PipelineItem{Item: a, Options: req.params}
	d.lib.Plugins.Perform(d.lib, OpActionRegister, deadline, item)

	var opts *OptionsMap
	var status Status
	switch {
	case a.IsCommand():
		opts, status = d.runCommand(ctx, a, req.params)
	default:
		opts, status = a.Handler(ctx, req.params)
	}

	if status.OK() {
		if err := validateOutputs(a, opts); err != nil {
			status = StatusOf(err)
		}
	}

	d.lib.Plugins.Perform(d.lib, OpActionComplete, deadline, PipelineItem{Item: a, Options: opts})
	d.lib.Metrics.ObserveRequest(a.Name, status, time.Since(start))
	req.resultCh <- RequestResult{Options: opts, Status: status}
}

// lockFor takes the exclusivity lock a's flags demand, §4.6.1. Action.validate
// normalizes FlagExclusiveDevice to also set FlagExclusiveApp at
// registration time (EXCLUSIVE_DEVICE "implies APP"), so both share the
// write-lock case here; only ordinary actions take the read lock and run
// concurrently with one another.
func (d *Dispatcher) lockFor(a *Action) (unlock func()) {
	if a.hasFlag(FlagExclusiveApp) {
		d.excl.Lock()
		return d.excl.Unlock
	}
	d.excl.RLock()
	return d.excl.RUnlock
}

// runCommand marshals params into argv as "--name=value" per §4.6.3 and
// execs the action's command through the library's osal.System, bounding
// the rendered command line to commandLineMax and capturing retval/stdout/
// stderr on the result options. A NO_RETURN action is launched and
// forgotten, completing as INVOKED without waiting on the process.
func (d *Dispatcher) runCommand(ctx context.Context, a *Action, params *OptionsMap) (*OptionsMap, Status) {
	args := append([]string(nil), a.Command[1:]...)
	lineLen := len(a.Command[0])
	for _, fixed := range a.Command[1:] {
		lineLen += 1 + len(fixed)
	}
	for _, p := range a.Parameters {
		if !p.Direction.IsInput() {
			continue
		}
		if params == nil {
			continue
		}
		v, err := params.GetRaw(p.Name)
		if err != nil {
			continue
		}
		arg := strings.ReplaceAll(fmt.Sprintf("--%s=%s", p.Name, v.renderCommandArg()), "\r\n", "")
		if lineLen+1+len(arg) > commandLineMax {
			if !a.hasFlag(FlagTruncateService) {
				return nil, OutOfRange
			}
			break
		}
		lineLen += 1 + len(arg)
		args = append(args, arg)
	}

	if a.hasFlag(FlagNoReturn) {
		go func() {
			_, _, _, _ = d.lib.System.Run(context.Background(), a.Command[0], args...)
		}()
		return nil, Invoked
	}

	stdout, stderr, exitCode, err := d.lib.System.Run(ctx, a.Command[0], args...)

	result := NewOptionsMap()
	_ = result.SetString("stdout", stripCRLF(truncate(string(stdout), commandOutputMax)))
	_ = result.SetString("stderr", stripCRLF(truncate(string(stderr), commandOutputMax)))
	_ = result.SetInt32("retval", int32(exitCode))

	if err != nil || exitCode != 0 {
		if ctx.Err() != nil {
			return result, TimedOut
		}
		return result, ExecutionError
	}
	return result, Success
}

// truncate bounds s to its first n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// stripCRLF removes carriage returns and replaces each newline with a space,
// flattening a command action's captured stdout/stderr onto one line.
func stripCRLF(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}
