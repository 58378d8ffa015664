package protocol

import (
	"encoding/json"
	"strings"

	"github.com/wippyai/wasm-wallet/errors"
)

// EventPrefix marks a response type as an unsolicited broadcast.
// Existing hosts depend on this exact tag.
const EventPrefix = "event_"

// Request is sent from the client to the execution host.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      uint64          `json:"id"`
}

// Response is sent from the execution host to the client. A successful
// response carries Result, a failed one carries Error; never both.
// Events reuse the shape with ID 0 and an EventPrefix type.
type Response struct {
	Type   string          `json:"type"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	ID     uint64          `json:"id,omitempty"`
}

// Failed reports whether the response carries a failure description.
func (r *Response) Failed() bool {
	return r.Error != ""
}

// IsEvent reports whether a response type denotes a broadcast.
func IsEvent(typ string) bool {
	return strings.HasPrefix(typ, EventPrefix)
}

// EventCategory strips the event prefix.
func EventCategory(typ string) string {
	return strings.TrimPrefix(typ, EventPrefix)
}

// EventType prefixes a category for the wire.
func EventType(category string) string {
	return EventPrefix + category
}

// NewRequest builds a request envelope, marshalling payload unless it is nil.
func NewRequest(id uint64, typ string, payload any) (*Request, error) {
	req := &Request{ID: id, Type: typ}
	if payload != nil {
		raw, err := Marshal(payload)
		if err != nil {
			return nil, errors.New(errors.PhaseProtocol, errors.KindInvalidInput).
				Command(typ).
				Detail("encode payload").
				Cause(err).
				Build()
		}
		req.Payload = raw
	}
	return req, nil
}

// NewEvent builds an event envelope for category.
func NewEvent(category string, data any) (*Response, error) {
	raw, err := Marshal(data)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidInput, err, "encode event "+category)
	}
	return &Response{Type: EventType(category), Result: raw}, nil
}

// Success builds a response echoing req with result.
func Success(req *Request, result json.RawMessage) *Response {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Response{ID: req.ID, Type: req.Type, Result: result}
}

// Failure builds a response echoing req with a failure description.
func Failure(req *Request, err error) *Response {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &Response{ID: req.ID, Type: req.Type, Error: msg}
}

// Marshal encodes v, passing raw JSON through untouched.
func Marshal(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case json.RawMessage:
		if len(t) == 0 {
			return json.RawMessage("null"), nil
		}
		return t, nil
	case nil:
		return json.RawMessage("null"), nil
	}
	return json.Marshal(v)
}

// EncodeRequest serializes a request frame.
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest parses a request frame. A frame that names an id but is
// otherwise invalid is returned alongside the error so it can be answered.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "decode request")
	}
	if req.ID == 0 {
		return &req, errors.InvalidInput(errors.PhaseProtocol, "request id must be positive")
	}
	if req.Type == "" {
		return &req, errors.InvalidInput(errors.PhaseProtocol, "request type is empty")
	}
	return &req, nil
}

// EncodeResponse serializes a response or event frame.
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses a response or event frame.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(errors.PhaseProtocol, errors.KindInvalidData, err, "decode response")
	}
	if resp.Type == "" {
		return nil, errors.InvalidInput(errors.PhaseProtocol, "response type is empty")
	}
	return &resp, nil
}
