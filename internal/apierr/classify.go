package apierr

import (
	"strings"

	"github.com/i474232898/solar-viability/internal/common"
)

// Rule maps free text to a code. A rule matches when the lower-cased text
// contains every All substring and, if Any is non-empty, at least one Any
// substring.
type Rule struct {
	Code Code
	All  []string
	Any  []string
}

func (r Rule) matches(s string) bool {
	if !common.HasAll(s, r.All...) {
		return false
	}
	return len(r.Any) == 0 || common.HasAny(s, r.Any...)
}

// rules is evaluated top to bottom and the first match wins. Overlaps are
// resolved by position only: footprint-specific rules sit above the generic
// network/timeout rule, so "footprint lookup timed out" is FootprintTimeout
// while "request timed out" is NetworkError.
var rules = []Rule{
	{Code: InsufficientCredits, Any: []string{"insufficient credits", "insufficient_credits", "no credits", "out of credits"}},
	{Code: AuthExpired, Any: []string{"jwt expired", "token expired", "token is expired", "session expired"}},
	{Code: AuthInvalid, Any: []string{"invalid jwt", "invalid token", "invalid_grant", "invalid signature", "malformed token"}},
	{Code: AuthRequired, Any: []string{"unauthorized", "not authenticated", "auth required", "authentication required", "missing authorization"}},
	{Code: FootprintTimeout, All: []string{"footprint"}, Any: []string{"timeout", "timed out", "deadline exceeded"}},
	{Code: FootprintNotFound, All: []string{"footprint"}, Any: []string{"not found", "no building", "no footprint"}},
	{Code: FootprintInvalid, All: []string{"footprint"}, Any: []string{"invalid", "self-intersect", "degenerate"}},
	{Code: GeocodingFailed, Any: []string{"geocod"}},
	{Code: InvalidAddress, Any: []string{"invalid address", "address not found", "zero_results"}},
	{Code: FunctionNotFound, Any: []string{"function not found", "(404)", "status 404", "no such function"}},
	{Code: NetworkError, Any: []string{"timeout", "timed out", "deadline exceeded", "network", "failed to fetch", "connection refused", "connection reset", "no such host", ": eof", "unexpected eof"}},
	{Code: EmptyResponse, Any: []string{"empty response", "empty body", "no data"}},
	{Code: MalformedResponse, Any: []string{"malformed", "unexpected token", "invalid character", "cannot unmarshal", "unexpected end of json", "syntax error"}},
	{Code: AnalysisFailed, Any: []string{"analysis failed", "analysis error"}},
	{Code: EdgeFunctionError, Any: []string{"edge function", "non-2xx", "server error", "(500)", "(502)", "(503)", "status 500", "status 502", "status 503", "internal error"}},
}

// Rules returns a copy of the ordered classification rules.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify maps upstream failure text to a code using the ordered rules.
// Unmatched text maps to UnknownError.
func Classify(raw string) Code {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return UnknownError
	}
	// Bare io.EOF text carries no context to anchor on.
	if s == "eof" {
		return NetworkError
	}
	for _, r := range rules {
		if r.matches(s) {
			return r.Code
		}
	}
	return UnknownError
}
