// Package apierr holds the closed set of error codes surfaced to callers,
// their user-facing messages and the recovery action each one suggests.
//
// Upstream failure text is classified once at the boundary (Classify) and
// from then on code paths branch on Code only.
package apierr

import (
	"errors"
	"fmt"
	"io"
)

// Code identifies a failure kind. Values are the wire representation.
type Code string

const (
	EdgeFunctionError   Code = "EDGE_FUNCTION_ERROR"
	NetworkError        Code = "NETWORK_ERROR"
	FunctionNotFound    Code = "FUNCTION_NOT_FOUND"
	EmptyResponse       Code = "EMPTY_RESPONSE"
	MalformedResponse   Code = "MALFORMED_RESPONSE"
	GeocodingFailed     Code = "GEOCODING_FAILED"
	AnalysisFailed      Code = "ANALYSIS_FAILED"
	InvalidAddress      Code = "INVALID_ADDRESS"
	FootprintNotFound   Code = "FOOTPRINT_NOT_FOUND"
	FootprintTimeout    Code = "FOOTPRINT_TIMEOUT"
	FootprintInvalid    Code = "FOOTPRINT_INVALID"
	AuthRequired        Code = "AUTH_REQUIRED"
	AuthExpired         Code = "AUTH_EXPIRED"
	AuthInvalid         Code = "AUTH_INVALID"
	InsufficientCredits Code = "INSUFFICIENT_CREDITS"
	UnknownError        Code = "UNKNOWN_ERROR"
)

// Action is the recovery step suggested to the caller.
type Action string

const (
	ActionRetry          Action = "retry"
	ActionLogin          Action = "login"
	ActionDrawManual     Action = "draw_manual"
	ActionContactSupport Action = "contact_support"
	ActionBuyCredits     Action = "buy_credits"
)

// Record is a classified failure. Records are built fresh per failure and
// never mutated afterwards.
type Record struct {
	Code        Code   `json:"code"`
	Message     string `json:"message"`
	UserMessage string `json:"userMessage"`
	Action      Action `json:"action"`
}

// Error implements error using the internal message.
func (r *Record) Error() string {
	if r.Message == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Retryable reports whether the caller may safely retry.
func (r *Record) Retryable() bool {
	return r != nil && r.Action == ActionRetry
}

type entry struct {
	userMessage string
	action      Action
}

// table must carry a row for every Code; errors_test enforces it.
var table = map[Code]entry{
	EdgeFunctionError:   {"The analysis service returned an error. Please try again in a moment.", ActionRetry},
	NetworkError:        {"We could not reach the analysis service. Check your connection and try again.", ActionRetry},
	FunctionNotFound:    {"The analysis service is temporarily unavailable. Please contact support if this persists.", ActionContactSupport},
	EmptyResponse:       {"The analysis service returned no data. Please try again.", ActionRetry},
	MalformedResponse:   {"The analysis service returned an unreadable response. Please try again.", ActionRetry},
	GeocodingFailed:     {"We could not locate that address. Try again or place the pin on the map.", ActionRetry},
	AnalysisFailed:      {"We could not complete the solar analysis for this location. Please try again.", ActionRetry},
	InvalidAddress:      {"The address looks incomplete or invalid. Review it or place the pin on the map.", ActionDrawManual},
	FootprintNotFound:   {"We could not find a building outline at this location. Draw your roof manually to continue.", ActionDrawManual},
	FootprintTimeout:    {"The building outline lookup took too long. Try again or draw your roof manually.", ActionRetry},
	FootprintInvalid:    {"The roof outline is not a valid polygon. Please redraw it.", ActionDrawManual},
	AuthRequired:        {"Please sign in to run an analysis.", ActionLogin},
	AuthExpired:         {"Your session has expired. Please sign in again.", ActionLogin},
	AuthInvalid:         {"Your session is not valid. Please sign in again.", ActionLogin},
	InsufficientCredits: {"You have no analysis credits left. Buy more credits to continue.", ActionBuyCredits},
	UnknownError:        {"Something went wrong. Please contact support if the problem persists.", ActionContactSupport},
}

// Codes lists every code in declaration order.
func Codes() []Code {
	return []Code{
		EdgeFunctionError, NetworkError, FunctionNotFound, EmptyResponse,
		MalformedResponse, GeocodingFailed, AnalysisFailed, InvalidAddress,
		FootprintNotFound, FootprintTimeout, FootprintInvalid, AuthRequired,
		AuthExpired, AuthInvalid, InsufficientCredits, UnknownError,
	}
}

// Valid reports whether c belongs to the enumeration.
func Valid(c Code) bool {
	_, ok := table[c]
	return ok
}

// Describe returns the record for code. When override is non-empty it
// replaces the table's user message. Codes outside the enumeration are
// described as UnknownError.
func Describe(code Code, override string) *Record {
	e, ok := table[code]
	if !ok {
		code = UnknownError
		e = table[UnknownError]
	}
	msg := e.userMessage
	if override != "" {
		msg = override
	}
	return &Record{
		Code:        code,
		UserMessage: msg,
		Action:      e.action,
	}
}

// New builds a record for code carrying the internal message.
func New(code Code, internal string) *Record {
	r := Describe(code, "")
	r.Message = internal
	return r
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Record {
	return New(code, fmt.Sprintf(format, args...))
}

// FromError returns the record embedded in err's chain, or classifies the
// error text when there is none. A nil error yields nil.
func FromError(err error) *Record {
	if err == nil {
		return nil
	}
	var rec *Record
	if errors.As(err, &rec) {
		return rec
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return New(NetworkError, err.Error())
	}
	return New(Classify(err.Error()), err.Error())
}

// FromErrorDefault is FromError, substituting def when the text does not
// classify to a specific code.
func FromErrorDefault(err error, def Code) *Record {
	rec := FromError(err)
	if rec != nil && rec.Code == UnknownError && def != UnknownError {
		return New(def, rec.Message)
	}
	return rec
}
