// Package normalize turns heterogeneous upstream payloads into one typed
// result or a classified error record.
//
// A payload is first tagged (FromBody / FromValue) and then resolved by
// Decode into exactly one outcome. Decode never panics past this boundary.
package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/i474232898/solar-viability/internal/apierr"
)

// Kind tags the shape an upstream payload arrived in.
type Kind int

const (
	// KindEmpty is an absent body, whitespace or a JSON null.
	KindEmpty Kind = iota
	// KindObject is a well-formed JSON value decodable as-is.
	KindObject
	// KindString is a JSON-encoded string whose content needs one more parse step.
	KindString
	// KindMalformed is text that does not parse as JSON.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindObject:
		return "object"
	case KindString:
		return "string"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Payload is a tagged upstream payload. For KindString, Body holds the
// already-unquoted inner text.
type Payload struct {
	Kind Kind
	Body []byte
}

// FromBody tags a raw response body.
func FromBody(body []byte) Payload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Payload{Kind: KindEmpty}
	}
	if !json.Valid(trimmed) {
		return Payload{Kind: KindMalformed, Body: trimmed}
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return Payload{Kind: KindMalformed, Body: trimmed}
		}
		return Payload{Kind: KindString, Body: []byte(inner)}
	}
	return Payload{Kind: KindObject, Body: trimmed}
}

// FromValue tags an already-received value: nil, a Go string holding JSON
// text, raw bytes, or any marshalable object.
func FromValue(v any) Payload {
	switch val := v.(type) {
	case nil:
		return Payload{Kind: KindEmpty}
	case Payload:
		return val
	case []byte:
		return FromBody(val)
	case json.RawMessage:
		return FromBody(val)
	case string:
		if strings.TrimSpace(val) == "" {
			return Payload{Kind: KindEmpty}
		}
		return Payload{Kind: KindString, Body: []byte(val)}
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return Payload{Kind: KindMalformed}
		}
		return FromBody(b)
	}
}

// Decode resolves p into T or a classified record.
func Decode[T any](p Payload) (out T, rec *apierr.Record) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			rec = apierr.Newf(apierr.MalformedResponse, "decode panic: %v", r)
		}
	}()

	body := p.Body
	switch p.Kind {
	case KindEmpty:
		return out, apierr.New(apierr.EmptyResponse, "upstream returned an empty payload")
	case KindMalformed:
		return out, apierr.New(apierr.MalformedResponse, "upstream payload is not valid JSON")
	case KindString:
		inner := FromBody(body)
		switch inner.Kind {
		case KindEmpty:
			return out, apierr.New(apierr.EmptyResponse, "upstream returned an empty JSON string")
		case KindObject:
			body = inner.Body
		default:
			return out, apierr.New(apierr.MalformedResponse, "upstream string payload does not contain a JSON document")
		}
	case KindObject:
	default:
		return out, apierr.Newf(apierr.MalformedResponse, "unknown payload kind %d", p.Kind)
	}

	env, isEnvelope := parseEnvelope(body)
	if isEnvelope {
		if rec := env.failure(); rec != nil {
			return out, rec
		}
		if data, ok := env.payload(); ok {
			body = data
		}
	}

	if err := json.Unmarshal(body, &out); err != nil {
		var zero T
		return zero, apierr.New(apierr.MalformedResponse, err.Error())
	}
	return out, nil
}

// DecodeBody is Decode(FromBody(body)).
func DecodeBody[T any](body []byte) (T, *apierr.Record) {
	return Decode[T](FromBody(body))
}

// DecodeValue is Decode(FromValue(v)).
func DecodeValue[T any](v any) (T, *apierr.Record) {
	return Decode[T](FromValue(v))
}

// envelope covers the wrapper shapes seen upstream:
//
//	{"success": false, "error": "...", "errorCode": "..."}
//	{"success": true, "data": {...}}
//	{"error": {"code": 403, "message": "...", "status": "PERMISSION_DENIED"}}
//	{"message": "...", "status": 400}
type envelope struct {
	Success   *bool           `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     json.RawMessage `json:"error"`
	ErrorCode string          `json:"errorCode"`
	Message   string          `json:"message"`
	Status    json.RawMessage `json:"status"`
}

type upstreamError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func parseEnvelope(body []byte) (envelope, bool) {
	var env envelope
	if len(body) == 0 || body[0] != '{' {
		return env, false
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, false
	}
	return env, true
}

func (e envelope) failure() *apierr.Record {
	explicitFailure := e.Success != nil && !*e.Success
	text, hasError := e.errorText()

	if !explicitFailure && !hasError && !e.httpStatusFailure() {
		return nil
	}
	if text == "" {
		text = e.Message
	}
	if e.ErrorCode != "" && apierr.Valid(apierr.Code(e.ErrorCode)) {
		return apierr.New(apierr.Code(e.ErrorCode), text)
	}
	return apierr.New(apierr.Classify(text), text)
}

func (e envelope) errorText() (string, bool) {
	raw := bytes.TrimSpace(e.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var ue upstreamError
	if err := json.Unmarshal(raw, &ue); err == nil {
		text := ue.Message
		if ue.Status != "" {
			text = ue.Status + ": " + text
		}
		if ue.Code != 0 {
			text = fmt.Sprintf("%s (%d)", text, ue.Code)
		}
		return text, true
	}
	return string(raw), true
}

func (e envelope) httpStatusFailure() bool {
	if e.Message == "" || len(e.Status) == 0 {
		return false
	}
	var status int
	if err := json.Unmarshal(e.Status, &status); err != nil {
		return false
	}
	return status >= 400
}

// payload returns the wrapped data of a success envelope. A data field that
// is itself a JSON string is unquoted once.
func (e envelope) payload() ([]byte, bool) {
	if e.Success == nil || !*e.Success {
		return nil, false
	}
	p := FromBody(e.Data)
	switch p.Kind {
	case KindObject:
		return p.Body, true
	case KindString:
		inner := FromBody(p.Body)
		if inner.Kind == KindObject {
			return inner.Body, true
		}
	}
	return nil, false
}
