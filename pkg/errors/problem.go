// Package errors provides structured API error responses using the
// RFC 7807 Problem Details format, plus the delivery error taxonomy
// shared by the admission and executor layers.
package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs
const (
	TypeRateLimit     = "https://api.convoport.io/problems/rate-limit"
	TypeBlocked       = "https://api.convoport.io/problems/blocked"
	TypeForbidden     = "https://api.convoport.io/problems/forbidden"
	TypeValidation    = "https://api.convoport.io/problems/validation-error"
	TypeInternalError = "https://api.convoport.io/problems/internal-error"
	TypeUnavailable   = "https://api.convoport.io/problems/service-unavailable"
)

// Problem titles
const (
	TitleRateLimit     = "Rate Limit Exceeded"
	TitleBlocked       = "Access Blocked"
	TitleForbidden     = "Forbidden"
	TitleValidation    = "Validation Error"
	TitleInternalError = "Internal Server Error"
	TitleUnavailable   = "Service Unavailable"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithExtra adds an extra field serialized at the top level of the response.
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON includes extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	for k, v := range p.Extra {
		result[k] = v
	}
	return json.Marshal(result)
}

// NewRateLimitError creates a rate limit problem. retryAfterSeconds is
// surfaced both in the body and by the middleware as a Retry-After header.
func NewRateLimitError(detail, instance string, retryAfterSeconds int) *ProblemDetails {
	p := &ProblemDetails{
		Type:     TypeRateLimit,
		Title:    TitleRateLimit,
		Status:   http.StatusTooManyRequests,
		Detail:   detail,
		Instance: instance,
	}
	if retryAfterSeconds > 0 {
		p.WithExtra("retry_after_seconds", retryAfterSeconds)
	}
	return p
}

// NewBlockedError creates a blocked-IP problem.
func NewBlockedError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     TypeBlocked,
		Title:    TitleBlocked,
		Status:   http.StatusForbidden,
		Detail:   detail,
		Instance: instance,
	}
}

// NewValidationError creates a validation error problem
func NewValidationError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     TypeValidation,
		Title:    TitleValidation,
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: instance,
	}
}

// NewInternalError creates an internal server error problem
func NewInternalError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     TypeInternalError,
		Title:    TitleInternalError,
		Status:   http.StatusInternalServerError,
		Detail:   detail,
		Instance: instance,
	}
}

// NewUnavailableError creates a service unavailable problem
func NewUnavailableError(detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     TypeUnavailable,
		Title:    TitleUnavailable,
		Status:   http.StatusServiceUnavailable,
		Detail:   detail,
		Instance: instance,
	}
}
