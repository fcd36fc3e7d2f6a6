// Package connector orchestrates send/call, per-database authentication,
// replica-set failover, retry, and error classification for a Corvid
// client. It is the glue between portpool, replicaset, and threadport: the
// coordination logic lives here, while each collaborator package owns one
// narrower piece of the overall state machine.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/corviddb/corvid-go/corvidlog"
	"github.com/corviddb/corvid-go/corvidmetrics"
	"github.com/corviddb/corvid-go/corvidtrace"
	"github.com/corviddb/corvid-go/internal/address"
	"github.com/corviddb/corvid-go/portpool"
	"github.com/corviddb/corvid-go/replicaset"
	"github.com/corviddb/corvid-go/threadport"
	"github.com/corviddb/corvid-go/wireproto"
)

const defaultCallRetries = 2

// commandCollection is the pseudo-collection name used for command replies;
// I/O failures against it are never retried, since a command reply has no
// well-defined idempotent replay.
const commandCollection = "$cmd"

// Options configures a Connector.
type Options struct {
	Dialer portpool.Dialer

	PoolSize       int
	AcquireTimeout time.Duration
	MaxLifetime    time.Duration

	StaleAfter      time.Duration
	RefreshInterval time.Duration

	Metrics corvidmetrics.Recorder
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Metrics == nil {
		o.Metrics = corvidmetrics.NullRecorder()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// WriteResult is the outcome of Say.
type WriteResult struct {
	// Confirmed reports whether an acknowledgement round trip ran.
	Confirmed bool
	// OK reports success; meaningless unless Confirmed or the write was a
	// best-effort unacknowledged send.
	OK      bool
	Code    int32
	Message string
}

// Connector owns the port registry, the optional replica-set tracker, and
// the current primary {address, pool} pair.
type Connector struct {
	opts Options

	registry *portpool.Registry
	status   *replicaset.Status // nil in single-address mode

	seeds []address.ServerAddress

	mu          sync.Mutex
	primaryAddr address.ServerAddress
	primaryPool *portpool.Pool
	closed      bool
}

// New constructs a Connector. A single address runs in steady single-node
// mode with no replica-set tracker; two or more addresses seed a
// replicaset.Status and resolve the primary dynamically.
func New(addrs []address.ServerAddress, opts Options) (*Connector, error) {
	if len(addrs) == 0 {
		return nil, ErrInvalidArgument
	}
	opts = opts.withDefaults()
	if opts.Dialer == nil {
		return nil, fmt.Errorf("%w: Options.Dialer is required", ErrInvalidArgument)
	}

	c := &Connector{
		opts:  opts,
		seeds: append([]address.ServerAddress(nil), addrs...),
		registry: portpool.NewRegistry(portpool.Options{
			MaxSize:        opts.PoolSize,
			AcquireTimeout: opts.AcquireTimeout,
			MaxLifetime:    opts.MaxLifetime,
			Dialer:         opts.Dialer,
			Metrics:        opts.Metrics,
		}),
	}

	if len(addrs) == 1 {
		pool, err := c.registry.Get(addrs[0])
		if err != nil {
			return nil, err
		}
		c.primaryAddr = addrs[0]
		c.primaryPool = pool
		return c, nil
	}

	status, err := replicaset.New(addrs, replicaset.Options{
		Prober:          &defaultProber{registry: c.registry},
		StaleAfter:      opts.StaleAfter,
		RefreshInterval: opts.RefreshInterval,
	})
	if err != nil {
		return nil, err
	}
	c.status = status
	return c, nil
}

// NewThreadPort creates a per-request handle bound to this Connector.
func (c *Connector) NewThreadPort() *threadport.ThreadPort {
	return threadport.New(c)
}

// PrimaryPool implements threadport.PoolSource. In single-address mode it
// always returns the fixed primary pool; in replica-set mode it returns the
// cached primary pair, forcing a synchronous replicaset.Status.EnsureMaster
// refresh when the cache has been cleared by a not-master or network
// failure.
func (c *Connector) PrimaryPool(ctx context.Context) (*portpool.Pool, address.ServerAddress, error) {
	c.mu.Lock()
	addr, pool := c.primaryAddr, c.primaryPool
	c.mu.Unlock()
	if !addr.IsZero() && pool != nil {
		return pool, addr, nil
	}

	if c.status == nil {
		return nil, address.ServerAddress{}, &InternalError{Message: "no primary configured in single-address mode"}
	}

	node, err := c.status.EnsureMaster(ctx)
	if err != nil {
		return nil, address.ServerAddress{}, &InternalError{Message: fmt.Sprintf("no reachable primary: %v", err)}
	}
	pool, err = c.registry.Get(node.Address)
	if err != nil {
		return nil, address.ServerAddress{}, err
	}
	c.setPrimary(node.Address, pool)
	return pool, node.Address, nil
}

// SecondaryPool implements threadport.PoolSource.
func (c *Connector) SecondaryPool(ctx context.Context) (*portpool.Pool, address.ServerAddress, bool) {
	if c.status == nil {
		return nil, address.ServerAddress{}, false
	}
	addr, ok := c.status.ASecondary()
	if !ok {
		return nil, address.ServerAddress{}, false
	}
	pool, err := c.registry.Get(addr)
	if err != nil {
		return nil, address.ServerAddress{}, false
	}
	return pool, addr, true
}

// setPrimary updates the current primary {address, pool} pair atomically so
// concurrent readers never observe a mismatched combination.
func (c *Connector) setPrimary(addr address.ServerAddress, pool *portpool.Pool) {
	c.mu.Lock()
	c.primaryAddr = addr
	c.primaryPool = pool
	c.mu.Unlock()
}

// forcePrimaryRefresh clears the cached primary pair and discards the
// replica-set tracker's report for the node that just refused us, so the
// next PrimaryPool call genuinely re-probes via EnsureMaster. Clearing the
// pair alone is not enough: the tracker's entry for the old primary may
// still be well inside the staleness window, and EnsureMaster would hand it
// straight back. A no-op in single-address mode: there is no replica set to
// refresh, so a not-master or network failure there surfaces to the caller
// directly.
func (c *Connector) forcePrimaryRefresh() {
	if c.status == nil {
		return
	}
	c.mu.Lock()
	failed := c.primaryAddr
	c.primaryAddr = address.ServerAddress{}
	c.primaryPool = nil
	c.mu.Unlock()
	if !failed.IsZero() {
		c.status.Invalidate(failed)
	}
}

func (c *Connector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Say sends message against db, optionally confirming it with an
// acknowledgement command carried by wc.
func (c *Connector) Say(ctx context.Context, handle *threadport.ThreadPort, db string, message wireproto.Message, wc wireproto.WriteConcern) (WriteResult, error) {
	defer message.DoneWithMessage()

	if c.isClosed() {
		return WriteResult{}, ErrClosed
	}

	if corvidlog.FromContext(ctx) == nil {
		ctx = corvidlog.WithContext(ctx, corvidlog.New(""))
	}
	ctx, span := corvidtrace.StartSpan(ctx, c.opts.Tracer, "corvid.say", corvidtrace.CallAttributes(c.addressLabel(), db, "", 0)...)

	port, err := handle.Acquire(ctx, true, false)
	if err != nil {
		c.opts.Metrics.RecordCall(corvidmetrics.OutcomeNetworkError)
		corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeNetworkError), err)
		return WriteResult{}, &NetworkError{Cause: err}
	}

	if err := port.CheckAuth(ctx, db); err != nil {
		handle.Release(port)
		corvidtrace.EndWithOutcome(span, "auth_error", err)
		return WriteResult{}, &AuthError{DB: db, Cause: err}
	}

	if err := port.Send(ctx, message); err != nil {
		return c.sayNetworkFailure(span, handle, port, wc, err)
	}

	if !wc.CallGetLastError() {
		handle.Release(port)
		c.opts.Metrics.RecordCall(corvidmetrics.OutcomeOK)
		corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeOK), nil)
		return WriteResult{Confirmed: false, OK: true}, nil
	}

	result, err := port.RunCommand(ctx, db, wc.Command())
	if err != nil {
		return c.sayNetworkFailure(span, handle, port, wc, err)
	}
	handle.Release(port)

	doc := result.Document()
	if errVal, ok := doc["err"]; ok && errVal != nil {
		errMessage, _ := errVal.(string)
		code := extractCode(doc)
		if isDuplicateKeyCode(code) || hasDuplicateKeyPrefix(errMessage) {
			c.opts.Metrics.RecordCall(corvidmetrics.OutcomeDuplicateKey)
			corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeDuplicateKey), nil)
			return WriteResult{}, &DuplicateKeyError{Code: code, Message: errMessage}
		}
		c.opts.Metrics.RecordCall(corvidmetrics.OutcomeWriteFailure)
		corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeWriteFailure), nil)
		return WriteResult{}, &WriteFailureError{Code: code, Message: errMessage}
	}

	c.opts.Metrics.RecordCall(corvidmetrics.OutcomeOK)
	corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeOK), nil)
	return WriteResult{Confirmed: true, OK: true}, nil
}

func (c *Connector) sayNetworkFailure(span trace.Span, handle *threadport.ThreadPort, port wireproto.Port, wc wireproto.WriteConcern, cause error) (WriteResult, error) {
	handle.Fail(port, cause)
	c.forcePrimaryRefresh()
	c.opts.Metrics.RecordCall(corvidmetrics.OutcomeNetworkError)
	corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeNetworkError), cause)
	if wc.RaiseNetworkErrors() {
		return WriteResult{}, &NetworkError{Cause: cause}
	}
	return WriteResult{Confirmed: false, OK: false, Message: "NETWORK ERROR"}, nil
}

func extractCode(doc wireproto.Document) int32 {
	switch v := doc["code"].(type) {
	case int32:
		return v
	case int:
		return int32(v)
	case int64:
		return int32(v)
	case float64:
		return int32(v)
	default:
		return 0
	}
}

// Call dispatches message against db/collection, retrying on I/O failure
// and on "not master" responses up to defaultCallRetries times.
func (c *Connector) Call(ctx context.Context, handle *threadport.ThreadPort, db, collection string, message wireproto.Message) (wireproto.Response, error) {
	// Released exactly once, here rather than in call: re-dispatch on retry
	// reuses the same message, so only the outermost frame may free it.
	defer message.DoneWithMessage()
	return c.call(ctx, handle, db, collection, message, defaultCallRetries)
}

func (c *Connector) call(ctx context.Context, handle *threadport.ThreadPort, db, collection string, message wireproto.Message, retries int) (wireproto.Response, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	if corvidlog.FromContext(ctx) == nil {
		ctx = corvidlog.WithContext(ctx, corvidlog.New(""))
	}
	ctx, span := corvidtrace.StartSpan(ctx, c.opts.Tracer, "corvid.call", corvidtrace.CallAttributes(c.addressLabel(), db, collection, retries)...)

	slaveOK := wireproto.HasFlag(message, wireproto.SlaveOK)
	port, err := handle.Acquire(ctx, false, slaveOK)
	if err != nil {
		corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeNetworkError), err)
		c.opts.Metrics.RecordCall(corvidmetrics.OutcomeNetworkError)
		return nil, &NetworkError{Cause: err}
	}

	if err := port.CheckAuth(ctx, db); err != nil {
		handle.Release(port)
		corvidtrace.EndWithOutcome(span, "auth_error", err)
		return nil, &AuthError{DB: db, Cause: err}
	}

	resp, err := port.Call(ctx, message, collection)
	if err != nil {
		handle.Fail(port, err)
		c.forcePrimaryRefresh()
		corvidlog.For(ctx, c.opts.Logger).Warn("call failed, port fenced",
			corvidlog.Address(c.addressLabel()), corvidlog.Collection(collection), corvidlog.Err(err))

		corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeNetworkError), err)
		if collection != commandCollection && retries > 0 {
			return c.call(ctx, handle, db, collection, message, retries-1)
		}
		c.opts.Metrics.RecordCall(corvidmetrics.OutcomeNetworkError)
		return nil, &NetworkError{Cause: err, RetriesWereUsed: retries <= 0}
	}

	if se, ok := resp.GetError(); ok && se.IsNotMaster() {
		handle.Release(port)
		c.forcePrimaryRefresh()
		corvidlog.For(ctx, c.opts.Logger).Info("not master, triggering failover", corvidlog.Address(c.addressLabel()))

		corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeNotMasterExhausted), se)
		if retries > 0 {
			return c.call(ctx, handle, db, collection, message, retries-1)
		}
		c.opts.Metrics.RecordCall(corvidmetrics.OutcomeNotMasterExhausted)
		return nil, &NotMasterExhaustedError{Retries: defaultCallRetries}
	}
	if se, ok := resp.GetError(); ok {
		handle.Release(port)
		c.opts.Metrics.RecordCall(corvidmetrics.OutcomeServerError)
		corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeServerError), se)
		return nil, &ServerErrorResult{Code: se.Code, Message: se.Message}
	}

	handle.Release(port)
	c.opts.Metrics.RecordCall(corvidmetrics.OutcomeOK)
	corvidtrace.EndWithOutcome(span, string(corvidmetrics.OutcomeOK), nil)
	return resp, nil
}

// RequestStart delegates to handle.
func (c *Connector) RequestStart(handle *threadport.ThreadPort) { handle.RequestStart() }

// RequestDone delegates to handle.
func (c *Connector) RequestDone(handle *threadport.ThreadPort) { handle.RequestDone() }

// RequestEnsureConnection delegates to handle.
func (c *Connector) RequestEnsureConnection(ctx context.Context, handle *threadport.ThreadPort) error {
	return handle.RequestEnsureConnection(ctx)
}

// Address returns the current primary address.
func (c *Connector) Address() address.ServerAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryAddr
}

// AllAddresses returns every candidate address this Connector was
// constructed with.
func (c *Connector) AllAddresses() []address.ServerAddress {
	return append([]address.ServerAddress(nil), c.seeds...)
}

// ConnectPoint returns a display string for the current primary.
func (c *Connector) ConnectPoint() string {
	return c.Address().String()
}

func (c *Connector) addressLabel() string {
	addr := c.Address()
	if addr.IsZero() {
		return "unresolved"
	}
	return addr.String()
}

// Close marks the Connector closed, closes the port registry, and stops the
// replica-set tracker's background refresh. Further Call/Say calls fail
// with ErrClosed.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.registry.Close()
	if c.status != nil {
		c.status.Close()
	}
	return nil
}
