package docuflow

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Response is the normalized envelope of a processing-service reply.
type Response struct {
	StatusCode int
	Header     http.Header

	// Parsed is the body decoded as a JSON object, when it is one.
	Parsed map[string]any

	// Typed is an SDK-specific decoded body, if the client produced one.
	Typed any

	// GUID is a job identifier the client surfaced at the top level.
	GUID string

	// Body is the raw response body.
	Body []byte
}

// IsError reports whether the status code signals a client or server error.
func (r *Response) IsError() bool {
	return r != nil && r.StatusCode >= http.StatusBadRequest
}

// GUIDCarrier is implemented by typed response bodies that expose a job identifier.
type GUIDCarrier interface {
	JobGUID() string
}

// IdentifierStrategy extracts a job identifier from a response, reporting
// false when it finds none.
type IdentifierStrategy func(r *Response) (string, bool)

// IdentifierStrategies are evaluated in order by ExtractJobID.
var IdentifierStrategies = []IdentifierStrategy{
	guidFromParsed,
	guidFromTyped,
	guidFromEnvelope,
	guidFromBody,
}

// ExtractJobID returns the first identifier produced by IdentifierStrategies.
func ExtractJobID(r *Response) (string, error) {
	if r == nil {
		return "", ErrMissingIdentifier
	}
	for _, strategy := range IdentifierStrategies {
		if id, ok := strategy(r); ok {
			return id, nil
		}
	}
	return "", ErrMissingIdentifier
}

func guidFromParsed(r *Response) (string, bool) {
	return guidFromMap(r.Parsed)
}

func guidFromTyped(r *Response) (string, bool) {
	carrier, ok := r.Typed.(GUIDCarrier)
	if !ok {
		return "", false
	}
	id := strings.TrimSpace(carrier.JobGUID())
	return id, id != ""
}

func guidFromEnvelope(r *Response) (string, bool) {
	id := strings.TrimSpace(r.GUID)
	return id, id != ""
}

func guidFromBody(r *Response) (string, bool) {
	if len(r.Body) == 0 {
		return "", false
	}
	var payload map[string]any
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		return "", false
	}
	return guidFromMap(payload)
}

func guidFromMap(m map[string]any) (string, bool) {
	for _, key := range []string{"guid", "jobGuid"} {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}
