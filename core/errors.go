package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every *ConfigError.
	ErrConfiguration = errors.New("configuration error")
	// ErrModelUnavailable is returned when the language model cannot produce a reply.
	ErrModelUnavailable = errors.New("language model unavailable")
	// ErrRateLimitExceeded is returned when a call slot could not be acquired before the run was cancelled.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

type ConfigErrorKind string

const (
	ConfigMissingField       ConfigErrorKind = "missing_field"
	ConfigInvalidValue       ConfigErrorKind = "invalid_value"
	ConfigUnknownTool        ConfigErrorKind = "unknown_tool"
	ConfigDuplicateName      ConfigErrorKind = "duplicate_name"
	ConfigToolNotPermitted   ConfigErrorKind = "tool_not_permitted"
	ConfigUnknownPlaceholder ConfigErrorKind = "unknown_placeholder"
	ConfigForwardReference   ConfigErrorKind = "forward_reference"
	ConfigUnsupported        ConfigErrorKind = "unsupported"
)

// ConfigError describes a crew definition that can never run correctly.
type ConfigError struct {
	Kind    ConfigErrorKind
	Subject string
	Detail  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error (%s) in %s: %s", e.Kind, e.Subject, e.Detail)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

func configErrorf(kind ConfigErrorKind, subject string, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, Subject: subject, Detail: fmt.Sprintf(format, args...)}
}

type ToolErrorKind string

const (
	ToolNotFound          ToolErrorKind = "not_found"
	ToolExtractionError   ToolErrorKind = "extraction_error"
	ToolSearchUnavailable ToolErrorKind = "search_unavailable"
	ToolInvalidInput      ToolErrorKind = "invalid_input"
	ToolNotPermitted      ToolErrorKind = "tool_not_permitted"
)

// ToolError is a recoverable failure of a single tool invocation. The agent
// loop folds it into the step's text; it never fails a run.
type ToolError struct {
	Kind  ToolErrorKind
	Tool  string
	Cause error
}

func (e *ToolError) Error() string {
	var msg string
	switch e.Kind {
	case ToolNotFound:
		msg = "file not found"
	case ToolExtractionError:
		msg = "could not extract document text"
	case ToolSearchUnavailable:
		msg = "search unavailable"
	case ToolInvalidInput:
		msg = "invalid input"
	case ToolNotPermitted:
		msg = "tool not permitted"
	default:
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Tool != "" {
		return e.Tool + ": " + msg
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError builds a ToolError; tool is filled in by the executor when empty.
func NewToolError(kind ToolErrorKind, cause error) *ToolError {
	return &ToolError{Kind: kind, Cause: cause}
}

// IsToolError reports whether err carries a *ToolError of the given kind.
func IsToolError(err error, kind ToolErrorKind) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Kind == kind
}

// errorKind names the error classes reported in RunResult.Error.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, errRunCancelled):
		return "cancelled"
	default:
		return "internal_error"
	}
}
