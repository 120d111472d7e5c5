package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/amoylab/gwbridge/internal/common/cnst"
	"github.com/amoylab/gwbridge/internal/common/config"
	"github.com/amoylab/gwbridge/internal/gateway"
	"github.com/amoylab/gwbridge/pkg/metrics"
	"github.com/amoylab/gwbridge/pkg/trace"
	"github.com/amoylab/gwbridge/pkg/version"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Headers set on every relayed event
const (
	HeaderSource    = "X-Gateway-Source"
	HeaderSecret    = "X-Gateway-Secret"
	HeaderRequestID = "X-Request-ID"

	bodyType = "gateway_event"
)

// maxDrainBytes bounds how much of a response body is read before closing it
const maxDrainBytes = 64 << 10

// Body is the JSON document posted to the sink
type Body struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Mirror receives a best-effort copy of every relayed event
type Mirror interface {
	Publish(ctx context.Context, ev gateway.OutboundEvent) error
	Close() error
}

// Option customizes a Forwarder
type Option func(*Forwarder)

// WithHTTPClient replaces the instrumented default client
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// WithMetrics records per-post metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

// WithMirror copies every event to m as well
func WithMirror(m Mirror) Option {
	return func(f *Forwarder) { f.mirror = m }
}

// Forwarder relays accepted gateway events to an HTTP endpoint. Delivery is
// at-most-once: one attempt per event, failures are logged and dropped.
type Forwarder struct {
	logger  *zap.Logger
	cfg     config.ForwardConfig
	source  string
	client  *http.Client
	metrics *metrics.Metrics
	mirror  Mirror
	tracer  *trace.Builder

	wg sync.WaitGroup
}

// New creates a forwarder. source is sent as X-Gateway-Source.
func New(logger *zap.Logger, cfg config.ForwardConfig, source string, opts ...Option) *Forwarder {
	f := &Forwarder{
		logger: logger.Named("forwarder"),
		cfg:    cfg,
		source: source,
		client: &http.Client{Transport: trace.Transport(nil)},
		tracer: trace.Tracer(cnst.TraceForwarder),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Send implements gateway.Sink. It returns immediately; the post runs on its
// own goroutine and outlives cancellation of ctx until the request timeout.
func (f *Forwarder) Send(ctx context.Context, ev gateway.OutboundEvent) {
	ctx = context.WithoutCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error("panic while forwarding event",
					zap.String("event", ev.EventName),
					zap.Any("panic", r))
			}
		}()
		f.deliver(ctx, ev)
	}()
}

func (f *Forwarder) deliver(ctx context.Context, ev gateway.OutboundEvent) {
	if err := f.Post(ctx, ev); err != nil {
		f.logger.Warn("failed to forward event, dropping",
			zap.String("event", ev.EventName),
			zap.Error(err))
	}
	if f.mirror == nil {
		return
	}
	scope := f.tracer.Start(ctx, cnst.SpanMirrorEvent).
		WithAttrs(attribute.String(cnst.AttrGatewayEvent, ev.EventName))
	err := f.mirror.Publish(scope.Ctx, ev)
	scope.Fail(err)
	scope.End()
	f.metrics.Mirror(err)
	if err != nil {
		f.logger.Warn("failed to mirror event, dropping",
			zap.String("event", ev.EventName),
			zap.Error(err))
	}
}

// Post performs exactly one POST of ev and reports the outcome
func (f *Forwarder) Post(ctx context.Context, ev gateway.OutboundEvent) error {
	data := ev.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	body, err := json.Marshal(Body{Type: bodyType, Event: ev.EventName, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.EventName, err)
	}

	reqID := uuid.NewString()
	scope := f.tracer.Start(ctx, cnst.SpanForwardEvent, oteltrace.WithSpanKind(oteltrace.SpanKindClient)).
		WithAttrs(
			attribute.String(cnst.AttrGatewayEvent, ev.EventName),
			attribute.String(cnst.AttrRequestID, reqID),
		)
	defer scope.End()

	ctx = scope.Ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		scope.Fail(err)
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent(f.source))
	req.Header.Set(HeaderSource, f.source)
	req.Header.Set(HeaderSecret, f.cfg.Secret)
	req.Header.Set(HeaderRequestID, reqID)

	start := time.Now()
	f.metrics.ForwardStart()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ForwardDone(ev.EventName, "error", start)
		scope.WithAttrs(attribute.String(cnst.AttrErrorReason, "transport"))
		scope.Fail(err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	f.metrics.ForwardDone(ev.EventName, strconv.Itoa(resp.StatusCode), start)
	scope.WithAttrs(attribute.Int(cnst.AttrHTTPStatusCode, resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: %d", cnst.ErrForwardStatus, resp.StatusCode)
		scope.WithAttrs(attribute.String(cnst.AttrErrorReason, "status"))
		scope.Fail(err)
		return err
	}

	f.logger.Debug("event forwarded",
		zap.String("event", ev.EventName),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Wait blocks until every in-flight send finishes or ctx is done
func (f *Forwarder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the mirror, if any
func (f *Forwarder) Close() error {
	if f.mirror == nil {
		return nil
	}
	return f.mirror.Close()
}

var _ gateway.Sink = (*Forwarder)(nil)
