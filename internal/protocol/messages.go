package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrBadMessage = errors.New("bad message")
var ErrUnknownType = errors.New("unknown event type")

type InboundType string

const (
	InJoin        InboundType = "join"
	InLeave       InboundType = "leave"
	InSyncRequest InboundType = "sync_request"
)

// Inbound is a message sent by a connected client.
type Inbound struct {
	Type     InboundType `json:"type"`
	BattleID string      `json:"battleId"`
	ClientID string      `json:"clientId,omitempty"`
	IsAdmin  bool        `json:"isAdmin,omitempty"`
}

func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if err := in.Validate(); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

func (in Inbound) Validate() error {
	switch in.Type {
	case InJoin:
		if in.ClientID == "" {
			return fmt.Errorf("%w: join needs clientId", ErrBadMessage)
		}
	case InLeave, InSyncRequest:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
	if in.BattleID == "" {
		return fmt.Errorf("%w: missing battleId", ErrBadMessage)
	}
	return nil
}

// Raw is an event whose payload is passed through untouched, used for events
// relayed from other processes.
type Raw struct {
	Envelope
	Fields map[string]json.RawMessage
}

// ParseRaw decodes an event object and checks its type is one we emit.
func ParseRaw(data []byte) (*Raw, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: event must be an object", ErrBadMessage)
	}
	var t EventType
	if err := json.Unmarshal(fields["type"], &t); err != nil {
		return nil, fmt.Errorf("%w: missing type", ErrBadMessage)
	}
	if !t.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	delete(fields, "type")
	delete(fields, "battleId")
	delete(fields, "timestamp")
	return &Raw{Envelope: env(t), Fields: fields}, nil
}

func (r *Raw) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["type"] = r.Type
	if r.BattleID != "" {
		out["battleId"] = r.BattleID
	}
	out["timestamp"] = r.Timestamp
	return json.Marshal(out)
}

// Stamp fills in the routing header of an event.
func Stamp(ev Event, battleID string, at time.Time) {
	h := ev.Header()
	h.BattleID = battleID
	h.Timestamp = at
}

func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
