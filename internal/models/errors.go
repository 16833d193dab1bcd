package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrBusy             = errors.New("sync run in progress")
	ErrRateLimited      = errors.New("rate limited")
	ErrRunTimeout       = errors.New("sync run exceeded its time budget")
	ErrEngineClosed     = errors.New("engine closed")
)

// APIError is a typed error from the remote catalog API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the failure is worth retrying within a run.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Auth reports whether the failure means the credential is no longer valid.
func (e *APIError) Auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// SyncError wraps a run failure with its phase and classification.
type SyncError struct {
	Phase          string
	Classification Classification
	Err            error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s [%s]: %v", e.Phase, e.Classification, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Classify maps an arbitrary run error onto the status taxonomy.
func Classify(err error) Classification {
	if err == nil {
		return ClassNone
	}

	var apiErr *APIError
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return ClassAuth
	case errors.Is(err, ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.As(err, &apiErr):
		if apiErr.Auth() {
			return ClassAuth
		}
		return ClassTransient
	case errors.Is(err, ErrRateLimited):
		return ClassTransient
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) && syncErr.Classification != ClassNone {
		return syncErr.Classification
	}

	return ClassInternal
}
