package cnst

// Tracer names used across the services
const (
	// TraceGateway is the tracer name for the connection manager
	TraceGateway = "gateway-bridge/gateway"
	// TraceForwarder is the tracer name for the event relay
	TraceForwarder = "gateway-bridge/forwarder"
	// TraceHealth is the server name reported by the health endpoint spans
	TraceHealth = "gateway-bridge/health"
)

// Common span names
const (
	SpanForwardEvent = "gateway.forward.event"
	SpanMirrorEvent  = "gateway.forward.mirror"
)

// Common attribute keys
const (
	AttrGatewayEvent   = "gateway.event"
	AttrRequestID      = "gateway.request_id"
	AttrHTTPStatusCode = "http.status_code"
	AttrErrorReason    = "error.reason"
)
