package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized is returned for a 401 when no refresh token is held.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired is returned when refreshing failed or the call was
	// rejected again after a successful refresh.
	ErrSessionExpired = errors.New("session expired")
	// ErrNetwork wraps transport failures; the cause stays matchable.
	ErrNetwork = errors.New("network error")
	// ErrPreconditionFailed marks a local state check that failed before any
	// network call was made.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// APIError is a non-2xx answer other than an authorization failure.
type APIError struct {
	Status  int
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// UploadStep names one stage of the image attachment sequence.
type UploadStep string

const (
	StepPresign  UploadStep = "presign"
	StepTransfer UploadStep = "transfer"
	StepRegister UploadStep = "register"
)

// UploadStepError reports which stage of an image attachment failed.
type UploadStepError struct {
	Step UploadStep
	Err  error
}

func (e *UploadStepError) Error() string {
	return fmt.Sprintf("image upload failed at %s step: %v", e.Step, e.Err)
}

func (e *UploadStepError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	return 0, false
}

// newAPIError builds an APIError from a response body, preferring "detail"
// (a string or a list of validation objects) then "message", and falling back
// to the status text.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Message: http.StatusText(status)}
	if e.Message == "" {
		e.Message = fmt.Sprintf("HTTP %d", status)
	}

	var details map[string]any
	if err := json.Unmarshal(body, &details); err != nil {
		return e
	}
	e.Details = details

	switch detail := details["detail"].(type) {
	case string:
		if detail != "" {
			e.Message = detail
			return e
		}
	case []any:
		if msg := joinValidationMessages(detail); msg != "" {
			e.Message = msg
			return e
		}
	}

	if msg, ok := details["message"].(string); ok && msg != "" {
		e.Message = msg
	}
	return e
}

func joinValidationMessages(items []any) string {
	msgs := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		msg, _ := obj["msg"].(string)
		if msg == "" {
			continue
		}
		if loc, ok := obj["loc"].([]any); ok && len(loc) > 0 {
			if field, ok := loc[len(loc)-1].(string); ok {
				msg = field + ": " + msg
			}
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

// UserMessage turns an error returned by this package into a short text fit
// for showing to the person at the keyboard.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	var stepErr *UploadStepError

	switch {
	case errors.Is(err, ErrSessionExpired):
		return "Your session has expired. Please log in again."
	case errors.Is(err, ErrUnauthorized):
		if _, detail, ok := strings.Cut(err.Error(), ErrUnauthorized.Error()+": "); ok && detail != "" {
			return detail
		}
		return "You need to log in to do that."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, ErrNetwork):
		return "Cannot reach the server. Check your connection and try again."
	case errors.As(err, &stepErr):
		return fmt.Sprintf("Image upload failed while trying to %s: %s", stepVerb(stepErr.Step), UserMessage(stepErr.Err))
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, ErrPreconditionFailed):
		return strings.TrimPrefix(err.Error(), ErrPreconditionFailed.Error()+": ")
	default:
		return err.Error()
	}
}

func stepVerb(step UploadStep) string {
	switch step {
	case StepPresign:
		return "get an upload link"
	case StepTransfer:
		return "send the file"
	case StepRegister:
		return "attach it to the listing"
	default:
		return string(step)
	}
}
