package usecase

import (
	"encoding/json"

	"agenttuid/internal/apperr"
	"agenttuid/internal/rpc"
)

// Register wires every method in the catalog onto d, decoding params with
// the field-level detail the dispatch contract requires: a parse failure
// here becomes InvalidParams, never a panic.
func Register(d *rpc.Dispatcher, svc *Service) {
	d.Handle("health", func(json.RawMessage) (any, error) { return svc.Health() })
	d.Handle("version", func(json.RawMessage) (any, error) { return svc.VersionInfo() })
	d.Handle("metrics", func(json.RawMessage) (any, error) { return svc.MetricsSnapshot() })
	d.Handle("sessions.list", func(json.RawMessage) (any, error) { return svc.ListSessions() })

	d.Handle("sessions.spawn", decode(svc.Spawn))
	d.Handle("sessions.kill", decode(svc.Kill))
	d.Handle("sessions.set_active", decode(svc.SetActive))
	d.Handle("snapshot", decode(svc.Snapshot))
	d.Handle("keystroke", decode(svc.Keystroke))
	d.Handle("type", decode(svc.Type))
	d.Handle("wait", decode(svc.Wait))
	d.Handle("resize", decode(svc.Resize))
}

// decode adapts a typed use-case method to rpc.Handler, parsing params
// into P before invoking fn.
func decode[P any, R any](fn func(P) (R, error)) rpc.Handler {
	return func(raw json.RawMessage) (any, error) {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, apperr.Newf(apperr.KindInvalidParams, "invalid params: %v", err)
			}
		}
		return fn(params)
	}
}
