package server

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/TritonDataCenter/node-fast-messages/event"
	"github.com/TritonDataCenter/node-fast-messages/fast"
)

// decodeObject reports whether raw is a JSON object and, if so, returns its
// fields undecoded so callers can apply their own per-key validation.
//
// json.Unmarshal happily accepts a top-level "null" into a map without error,
// leaving it nil, so an explicit brace check is needed to reject that case
// along with arrays, strings, and numbers.
func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeNumber(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// handleMessages implements the "messages" streaming RPC: it validates the
// subscription request, registers it (evicting any same-client_id
// subscription already present), optionally writes a sync frame, and then
// blocks until the subscription is displaced or the connection goes away.
func (s *Server) handleMessages(ctx context.Context, args []json.RawMessage, stream *fast.Stream) error {
	if len(args) != 1 {
		return errMessagesArgc
	}
	opts, ok := decodeObject(args[0])
	if !ok {
		return errMessagesObject
	}

	clientID, ok := "", false
	if raw, present := opts["client_id"]; present {
		clientID, ok = decodeString(raw)
	}
	if !ok || clientID == "" {
		return errMessagesClientID
	}

	version := 0
	if raw, present := opts["version"]; present {
		if n, ok := decodeNumber(raw); ok && n >= 1 {
			version = int(n)
		}
	}

	sub := &subscription{
		clientID: clientID,
		version:  version,
		stream:   stream,
		done:     make(chan struct{}),
	}

	if evicted := s.registry.register(sub); evicted != nil {
		s.log.Warn().Str("client_id", clientID).Msg("duplicate client_id, evicting previous subscription")
		close(evicted.done)
	}
	if s.metrics != nil {
		s.metrics.subscriptions.Inc()
	}
	defer func() {
		s.registry.remove(clientID, sub)
		if s.metrics != nil {
			s.metrics.subscriptions.Dec()
		}
	}()

	if version >= 1 {
		snap := s.Snapshot()
		if err := stream.Send(event.NewSync(snap, event.ProtocolVersion)); err != nil {
			s.log.Warn().Err(err).Str("client_id", clientID).Msg("failed writing sync frame")
		}
	}

	select {
	case <-ctx.Done():
	case <-sub.done:
	}
	return nil
}

// handlePing implements the "ping" unary RPC: a liveness probe with no reply
// payload beyond successful completion.
func (s *Server) handlePing(ctx context.Context, args []json.RawMessage) (any, error) {
	if len(args) != 1 {
		return nil, errPingArgc
	}
	opts, ok := decodeObject(args[0])
	if !ok {
		return nil, errPingObject
	}

	reqID := ""
	if raw, present := opts["req_id"]; present {
		v, ok := decodeString(raw)
		if !ok {
			return nil, errPingReqID
		}
		reqID = v
	}
	if reqID == "" {
		reqID = s.idGen()
	}

	s.log.Debug().Str("req_id", reqID).Msg("ping")
	return nil, nil
}
