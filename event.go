package hit_counter

import (
	"bytes"
	"encoding/json"

	"github.com/pnvasko/hit-counter/common"
)

const PathField = "path"

// Event is the routing view of an incoming payload. Only path is decoded;
// the payload itself is kept byte for byte for forwarding.
type Event struct {
	Path string
	raw  []byte
}

// DecodeEvent requires raw to be a JSON object with a string "path" member.
func DecodeEvent(raw []byte) (*Event, error) {
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return nil, common.NewDecodeError(common.DecodeSourceEvent, common.ErrMalformed)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, common.NewDecodeError(common.DecodeSourceEvent, common.ErrNotObject)
	}

	value, ok := fields[PathField]
	if !ok {
		return nil, common.NewDecodeError(common.DecodeSourceEvent, common.ErrMissingPath)
	}
	// null would decode into a string without error.
	if len(value) == 0 || value[0] != '"' {
		return nil, common.NewDecodeError(common.DecodeSourceEvent, common.ErrPathNotString)
	}

	var path string
	if err := json.Unmarshal(value, &path); err != nil {
		return nil, common.NewDecodeError(common.DecodeSourceEvent, err)
	}

	return &Event{
		Path: path,
		raw:  bytes.Clone(raw),
	}, nil
}

// Raw returns the original serialized event.
func (e *Event) Raw() []byte {
	return e.raw
}

// decodeResponse checks that the downstream payload is well-formed JSON and
// returns it untouched.
func decodeResponse(payload []byte) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, common.ErrEmptyPayload
	}
	if !json.Valid(payload) {
		return nil, common.NewDecodeError(common.DecodeSourceResponse, common.ErrMalformed)
	}
	return json.RawMessage(payload), nil
}
