// Package rpc implements the JSON-RPC-shaped request/response protocol:
// parsing, the method table, panic-safe dispatch, and the single adapter
// that turns an apperr.Error (or any other error) into a wire error
// object. Framing and transport live in package transport; rpc only knows
// about already-decoded frame payloads.
package rpc

import (
	"encoding/json"
	"log/slog"
	"time"

	"agenttuid/internal/apperr"
	"agenttuid/internal/metrics"
)

// Request is one decoded JSON-RPC request frame.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC response frame; exactly one of Result or Error
// is set.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any              `json:"result,omitempty"`
	Error  *ErrorObject     `json:"error,omitempty"`
}

// ErrorObject is the wire shape of an RPC error.
type ErrorObject struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the structured fields the spec requires beyond a bare
// code/message: category, retryability, and an optional suggestion.
type ErrorData struct {
	Category   string         `json:"category"`
	Retryable  bool           `json:"retryable"`
	Suggestion string         `json:"suggestion,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// Handler parses params and returns a result value, or an error (ideally
// an *apperr.Error; any other error is treated as Internal).
type Handler func(params json.RawMessage) (any, error)

// Dispatcher maps method names to Handlers and turns panics inside a
// handler into a generic Internal error response instead of crashing the
// worker goroutine, mirroring the "panics caught at the worker boundary"
// propagation policy.
type Dispatcher struct {
	handlers map[string]Handler
	metrics  *metrics.Registry
	log      *slog.Logger
}

// NewDispatcher creates an empty Dispatcher; register methods with Handle.
func NewDispatcher(reg *metrics.Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{handlers: make(map[string]Handler), metrics: reg, log: log}
}

// Handle registers a method.
func (d *Dispatcher) Handle(method string, h Handler) {
	d.handlers[method] = h
}

// Dispatch parses raw as a Request, invokes the matching Handler, and
// returns the marshaled Response bytes. It never returns an error itself:
// every failure becomes a JSON-RPC error response.
func (d *Dispatcher) Dispatch(raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(Response{
			ID:    json.RawMessage("null"),
			Error: toErrorObject(apperr.New(apperr.KindParse, "malformed request: "+err.Error())),
		})
	}

	d.metrics.IncRequests()
	start := time.Now()
	logger := d.log.With("method", req.Method, "id", string(req.ID))

	handler, ok := d.handlers[req.Method]
	if !ok {
		errObj := toErrorObject(apperr.Newf(apperr.KindMethodNotFound, "Method not found: %s", req.Method))
		logger.Warn("method not found", "duration_ms", time.Since(start).Milliseconds(), "error_code", errObj.Code)
		d.metrics.IncErrors()
		return encode(Response{ID: req.ID, Error: errObj})
	}

	result, err := d.invoke(handler, req.Params, logger)
	if err != nil {
		errObj := toErrorObject(err)
		logger.Warn("request failed", "error", err, "duration_ms", time.Since(start).Milliseconds(), "error_code", errObj.Code)
		d.metrics.IncErrors()
		return encode(Response{ID: req.ID, Error: errObj})
	}
	logger.Debug("request completed", "duration_ms", time.Since(start).Milliseconds())
	return encode(Response{ID: req.ID, Result: result})
}

// invoke runs h, recovering a panic into an Internal apperr.Error so one
// bad request can't take down the worker goroutine handling it.
func (d *Dispatcher) invoke(h Handler, params json.RawMessage, logger *slog.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "recovered", r)
			err = apperr.New(apperr.KindInternal, "internal error")
		}
	}()
	return h(params)
}

func encode(resp Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// Marshaling our own well-typed Response should never fail; fall
		// back to a minimal hand-built error frame if it somehow does.
		return []byte(`{"id":null,"error":{"code":-32603,"message":"failed to serialize response"}}`)
	}
	return b
}

// toErrorObject adapts any error to the wire ErrorObject shape, treating
// non-apperr errors as an opaque Internal failure.
func toErrorObject(err error) *ErrorObject {
	aerr, ok := err.(*apperr.Error)
	if !ok {
		aerr = apperr.New(apperr.KindInternal, err.Error())
	}
	return &ErrorObject{
		Code:    aerr.Code(),
		Message: aerr.Message,
		Data: &ErrorData{
			Category:   string(aerr.Category),
			Retryable:  aerr.Retryable,
			Suggestion: aerr.Suggestion,
			Context:    aerr.Context,
		},
	}
}
