package httpd

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Rule is one routing alternative. Handle reports whether it claimed the
// request; a claimed request has consumed the connection exactly once,
// either by writing a response or by taking the socket over.
type Rule interface {
	Handle(req *http.Request, conn *ClientConn) bool
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(req *http.Request, conn *ClientConn) bool

// Handle implements Rule.
func (f RuleFunc) Handle(req *http.Request, conn *ClientConn) bool {
	return f(req, conn)
}

// Router dispatches requests to an ordered list of rules. The rule list
// is fixed at construction time; dispatch tries rules strictly in
// registration order and stops at the first one that handles the
// request. Unclaimed requests are answered with 400 Bad Request.
type Router struct {
	rules    []Rule
	tracer   trace.Tracer
	onStatus func(status int)
	logger   *slog.Logger
}

// NewRouter builds a router over the given rules. If logger is nil,
// slog.Default is used.
func NewRouter(logger *slog.Logger, rules ...Rule) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		rules:  rules,
		logger: logger.With("component", "router"),
	}
}

// SetTracer enables an OpenTelemetry span around every dispatch. Call it
// before serving begins; the router is not safe to mutate afterwards.
func (r *Router) SetTracer(t trace.Tracer) {
	r.tracer = t
}

// SetResponseObserver registers fn to be called with the status of every
// response written on connections served through this router. Call it
// before serving begins.
func (r *Router) SetResponseObserver(fn func(status int)) {
	r.onStatus = fn
}

func (r *Router) observeStatus(status int) {
	if r != nil && r.onStatus != nil {
		r.onStatus(status)
	}
}

// Handle routes req. The connection is guaranteed to be consumed exactly
// once: by the first matching rule, or by the router's own 400 reply.
func (r *Router) Handle(req *http.Request, conn *ClientConn) {
	var span trace.Span
	if r.tracer != nil {
		var ctx = req.Context()
		ctx, span = r.tracer.Start(ctx, "httpd.dispatch",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.target", req.URL.RequestURI()),
			))
		req = req.WithContext(ctx)
		defer span.End()
	}

	for i, rule := range r.rules {
		if rule.Handle(req, conn) {
			if span != nil {
				span.SetAttributes(attribute.Int("httpd.rule_index", i))
			}
			return
		}
	}

	r.logger.Debug("no rule claimed request", "method", req.Method, "target", req.URL.RequestURI())
	if span != nil {
		span.SetStatus(codes.Error, "no matching rule")
	}
	conn.WriteResponse(req, BadRequest("not found"))
}
