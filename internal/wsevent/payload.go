package wsevent

import (
	"encoding/json"

	"github.com/castlab/studio/internal/errors"
)

// Envelope is the wire format for every message in both directions.
type Envelope struct {
	Event string           `json:"event"`
	Data  *json.RawMessage `json:"data,omitempty"`
}

func newEnvelope(event string, data interface{}) (*Envelope, error) {
	bs, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(ErrCodeParseError, err, "failed to marshal event data")
	}
	raw := json.RawMessage(bs)
	return &Envelope{
		Event: event,
		Data:  &raw,
	}, nil
}

// ErrorEvent is the event name used to report handler failures to the peer.
const ErrorEvent = "error"

// ErrorData is the payload of an "error" event.
type ErrorData struct {
	Message string `json:"message"`
}
