package vkads

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error codes the API uses for overload and internal failures.
const (
	codeUnknown         = 1
	codeTooManyRequests = 6
	codeFloodControl    = 9
	codeInternal        = 10
)

// APIError is an error object returned in the response envelope.
type APIError struct {
	Method  string `json:"-"`
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error %d: %s", e.Method, e.Code, e.Message)
}

// Temporary reports whether the call is worth retrying.
func (e *APIError) Temporary() bool {
	switch e.Code {
	case codeUnknown, codeTooManyRequests, codeFloodControl, codeInternal:
		return true
	}
	return false
}

// ErrorKind classifies the error for callers that map failures to outcomes.
func (e *APIError) ErrorKind() string { return "remote" }

// HTTPError is a non-200 reply from the API gateway.
type HTTPError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Method, e.StatusCode, e.Body)
}

func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (e *HTTPError) ErrorKind() string { return "remote" }

// NetworkError is a transport failure before any reply was read.
type NetworkError struct {
	Method string
	Err    error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Method, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Temporary() bool { return true }

func (e *NetworkError) ErrorKind() string { return "remote" }

// ItemError reports entries of a batch request the API rejected while
// accepting the rest.
type ItemError struct {
	Method string
	Items  map[int]string // ID to the API's description.
}

// RejectedIDs lists the rejected entries, ascending. Every other entry of the
// request was applied.
func (e *ItemError) RejectedIDs() []int {
	ids := make([]int, 0, len(e.Items))
	for id := range e.Items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (e *ItemError) Error() string {
	ids := e.RejectedIDs()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d: %s", id, e.Items[id]))
	}
	return fmt.Sprintf("%s: %d items rejected: %s", e.Method, len(e.Items), strings.Join(parts, "; "))
}

func (e *ItemError) ErrorKind() string { return "remote" }
