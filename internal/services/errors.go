package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrSpawn         = errors.New("spawn failure")
	ErrRuntime       = errors.New("runtime failure")
	ErrIntegrity     = errors.New("integrity anomaly")
	ErrExternalTool  = errors.New("external tool error")
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrRuntime
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify returns the marker carried by err, or nil when err is untagged.
func Classify(err error) error {
	for _, marker := range []error{
		ErrValidation,
		ErrNotFound,
		ErrConflict,
		ErrIntegrity,
		ErrSpawn,
		ErrRuntime,
		ErrExternalTool,
		ErrConfiguration,
	} {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return nil
}

// PublicMessage renders err for API clients. Integrity anomalies and untagged
// failures never leak internal detail.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case ErrIntegrity, ErrNotFound:
		return "session not found"
	case ErrValidation, ErrConflict:
		var public *publicError
		if errors.As(err, &public) && public.msg != "" {
			return public.msg
		}
		if errors.Is(err, ErrConflict) {
			return "conflicting request"
		}
		return "invalid request"
	case ErrSpawn:
		return "failed to start conversion"
	default:
		return "internal error"
	}
}

// Public marks message as safe to show to API clients.
func Public(marker error, message string) error {
	return &publicError{marker: marker, msg: strings.TrimSpace(message)}
}

type publicError struct {
	marker error
	msg    string
}

func (e *publicError) Error() string {
	return fmt.Sprintf("%v: %s", e.marker, e.msg)
}

func (e *publicError) Unwrap() error { return e.marker }

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
