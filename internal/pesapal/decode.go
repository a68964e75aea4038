package pesapal

import (
	"bytes"
	"encoding/json"

	ierr "github.com/berniyo/pesapal-lambda/internal/errors"
)

const defaultFailureStatus = "500"

// Failure is a gateway-reported error extracted from a response envelope.
type Failure struct {
	Detail PesapalError
	Status string
}

// result is either a decoded value or a gateway failure, never both.
type result[T any] struct {
	value   T
	failure *Failure
}

// envelope holds the keys that can carry an error. Pesapal reports errors in
// two shapes: a top-level "error" object next to "status", or a "message"
// string containing that same object JSON-encoded.
type envelope struct {
	Error   json.RawMessage `json:"error"`
	Status  json.RawMessage `json:"status"`
	Message json.RawMessage `json:"message"`
}

// decode classifies a raw gateway response. A populated error in either
// envelope shape wins over every other field.
func decode[T any](raw []byte) (result[T], error) {
	var res result[T]

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return res, malformed(err, raw)
		}
		failure, err := env.failure(true)
		if err != nil {
			return res, malformed(err, raw)
		}
		if failure != nil {
			res.failure = failure
			return res, nil
		}
	}

	if err := json.Unmarshal(raw, &res.value); err != nil {
		return res, malformed(err, raw)
	}
	return res, nil
}

// failure applies the direct shape and, when nested is set, the
// string-embedded shape.
func (e envelope) failure(nested bool) (*Failure, error) {
	detail, ok, err := parseErrorField(e.Error)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Failure{Detail: detail, Status: parseStatus(e.Status)}, nil
	}

	if !nested {
		return nil, nil
	}

	var embedded string
	if len(e.Message) == 0 || e.Message[0] != '"' || json.Unmarshal(e.Message, &embedded) != nil {
		return nil, nil
	}
	inner := bytes.TrimSpace([]byte(embedded))
	if len(inner) == 0 || inner[0] != '{' {
		// plain human readable message
		return nil, nil
	}
	var innerEnv envelope
	if err := json.Unmarshal(inner, &innerEnv); err != nil {
		return nil, nil
	}
	return innerEnv.failure(false)
}

// parseErrorField reports whether the raw "error" value is populated. Objects
// whose fields are all empty count as absent; a bare string becomes the message.
func parseErrorField(raw json.RawMessage) (PesapalError, bool, error) {
	var detail PesapalError
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return detail, false, nil
	}

	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &detail.Message); err != nil {
			return detail, false, err
		}
	case '{':
		if err := json.Unmarshal(raw, &detail); err != nil {
			return detail, false, err
		}
	default:
		// booleans and numbers carry nothing we can report
		return detail, false, nil
	}
	return detail, !detail.empty(), nil
}

// parseStatus accepts "500" or 500 and defaults to "500".
func parseStatus(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return defaultFailureStatus
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return defaultFailureStatus
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return defaultFailureStatus
}

func malformed(err error, raw []byte) error {
	return ierr.WithError(err).
		WithHint("Pesapal returned a response that is not valid JSON").
		WithReportableDetails(map[string]any{"body": truncate(raw, 256)}).
		Mark(ierr.ErrTransport)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
