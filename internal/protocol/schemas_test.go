package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"wallnav.ai/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asJSON round-trips v through encoding/json so the schema sees exactly what
// goes over the wire.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	validate(compile(t, "subscribe.schema.json"), asJSON(t, protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		EveryN:          2,
		HistoryTail:     32,
	}))

	crash := [2]float64{3, 0.5}
	validate(compile(t, "state.schema.json"), asJSON(t, protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		RunID:           "0b7d8d0e-2f7c-4d7e-9b0e-2b1f0f1c9a11",
		Mission:         "errands",
		Step:            12,
		Steer:           "left",
		Pose:            protocol.Pose{X: 2.9, Y: 0.5, Heading: 350},
		Crashed:         true,
		CrashPoint:      &crash,
		Locations:       []protocol.Location{{Name: "mail", X: -5, Y: 10}},
		Tail:            [][2]float64{{0, 0}, {1, 0.1}},
	}))

	validate(compile(t, "drag.schema.json"), asJSON(t, protocol.DragMsg{
		Type:            protocol.TypeDrag,
		ProtocolVersion: protocol.Version,
		Phase:           protocol.DragMove,
		X:               4,
		Y:               -1.5,
	}))

	validate(compile(t, "ack.schema.json"), asJSON(t, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          protocol.TypeDrag,
		Phase:           protocol.DragPress,
		Accepted:        false,
		Code:            protocol.ErrNoTarget,
		Message:         "no location under cursor",
	}))

	validate(compile(t, "error.schema.json"), asJSON(t, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            protocol.ErrProtoBadRequest,
		Message:         "bad json",
	}))
}

func TestSchemas_RejectMalformed(t *testing.T) {
	drag := compile(t, "drag.schema.json")
	var bad any
	_ = json.Unmarshal([]byte(`{"type":"DRAG","protocol_version":"1.0","phase":"SHAKE","x":1,"y":2}`), &bad)
	if err := drag.Validate(bad); err == nil {
		t.Fatalf("expected unknown drag phase rejected")
	}

	state := compile(t, "state.schema.json")
	_ = json.Unmarshal([]byte(`{"type":"STATE","protocol_version":"1.0","run_id":"r","step":1,"steer":"left",
	  "pose":{"x":0,"y":0,"heading":360},"whisker":false,"crashed":false,"locations":[]}`), &bad)
	if err := state.Validate(bad); err == nil {
		t.Fatalf("expected heading 360 rejected")
	}
}

func TestDecodeBase(t *testing.T) {
	base, err := protocol.DecodeBase([]byte(`{"type":"DRAG","protocol_version":"1.0","phase":"PRESS"}`))
	if err != nil {
		t.Fatalf("DecodeBase: %v", err)
	}
	if base.Type != protocol.TypeDrag || base.ProtocolVersion != protocol.Version {
		t.Fatalf("base=%+v", base)
	}
	if _, err := protocol.DecodeBase([]byte(`{`)); err == nil {
		t.Fatalf("expected error on truncated json")
	}
}
