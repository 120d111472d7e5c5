package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/amoylab/gwbridge/internal/common/cnst"
	"github.com/tidwall/gjson"
)

// Opcode tags the purpose of a wire frame
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "op_" + strconv.Itoa(int(o))
	}
}

// Envelope is the JSON frame exchanged over the socket
type Envelope struct {
	Op        Opcode          `json:"op"`
	Data      json.RawMessage `json:"d"`
	Sequence  *int64          `json:"s"`
	EventName *string         `json:"t"`
}

// Name returns the dispatch event name or "" when absent
func (e *Envelope) Name() string {
	if e.EventName == nil {
		return ""
	}
	return *e.EventName
}

// IdentifyProperties are descriptive client metadata sent on identify
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyPayload opens a fresh session
type IdentifyPayload struct {
	Token      string             `json:"token"`
	Intents    int64              `json:"intents"`
	Properties IdentifyProperties `json:"properties"`
}

// ResumePayload reattaches to a previous session
type ResumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  *int64 `json:"seq"`
}

// Encode builds an outbound frame. Outbound frames never carry s or t.
func Encode(op Opcode, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}
	return json.Marshal(Envelope{Op: op, Data: raw})
}

// Decode parses an inbound frame. A frame without an op field is malformed.
func Decode(raw []byte) (*Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", cnst.ErrMalformedFrame)
	}
	if !gjson.GetBytes(raw, "op").Exists() {
		return nil, fmt.Errorf("%w: missing op", cnst.ErrMalformedFrame)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", cnst.ErrMalformedFrame, err)
	}
	return &env, nil
}

// helloInterval extracts d.heartbeat_interval in milliseconds
func helloInterval(data json.RawMessage) int64 {
	return gjson.GetBytes(data, "heartbeat_interval").Int()
}

// readyFields extracts the session id and resume url from a READY payload
func readyFields(data json.RawMessage) (sessionID, resumeURL string) {
	res := gjson.GetManyBytes(data, "session_id", "resume_gateway_url")
	return res[0].String(), res[1].String()
}

// invalidSessionResumable reads the boolean carried by an invalid session frame
func invalidSessionResumable(data json.RawMessage) bool {
	return gjson.ParseBytes(data).Bool()
}
