// Package ctlerrors defines the closed error-kind taxonomy shared by every
// component of the controller, so callers can match on category without
// parsing strings.
package ctlerrors

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Kind identifies the category of an error. The set is closed: every error
// surfaced across a component boundary carries exactly one of these.
type Kind string

const (
	ConfigValidation  Kind = "config-validation"
	StrategyParse     Kind = "strategy-parse"
	FirewallSetup     Kind = "firewall-setup"
	ProcessManagement Kind = "process-management"
	ServiceOperation  Kind = "service-operation"
	NotFound          Kind = "not-found"
	PermissionDenied  Kind = "permission-denied"
	Timeout           Kind = "timeout"
	SessionState      Kind = "session-state"
)

// Sentinels for errors.Is matching against a kind without unwrapping a
// concrete type.
var (
	ErrConfigValidation  = errors.New(string(ConfigValidation))
	ErrStrategyParse     = errors.New(string(StrategyParse))
	ErrFirewallSetup     = errors.New(string(FirewallSetup))
	ErrProcessManagement = errors.New(string(ProcessManagement))
	ErrServiceOperation  = errors.New(string(ServiceOperation))
	ErrNotFound          = errors.New(string(NotFound))
	ErrPermissionDenied  = errors.New(string(PermissionDenied))
	ErrTimeout           = errors.New(string(Timeout))
	ErrSessionState      = errors.New(string(SessionState))
)

func sentinelFor(k Kind) error {
	switch k {
	case ConfigValidation:
		return ErrConfigValidation
	case StrategyParse:
		return ErrStrategyParse
	case FirewallSetup:
		return ErrFirewallSetup
	case ProcessManagement:
		return ErrProcessManagement
	case ServiceOperation:
		return ErrServiceOperation
	case NotFound:
		return ErrNotFound
	case PermissionDenied:
		return ErrPermissionDenied
	case Timeout:
		return ErrTimeout
	case SessionState:
		return ErrSessionState
	default:
		return nil
	}
}

// BaseError carries the common kind/message/cause shape every typed error
// below embeds.
type BaseError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BaseError) Unwrap() error { return e.Cause }

func (e *BaseError) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

// ConfigError reports a missing or invalid configuration field.
type ConfigError struct {
	BaseError
	Field string
	Value string
}

func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{
		BaseError: BaseError{Kind: ConfigValidation, Message: message},
		Field:     field,
		Value:     value,
	}
}

// StrategyError reports a malformed strategy file at a specific line.
type StrategyError struct {
	BaseError
	File string
	Line int
}

func NewStrategyError(file string, line int, message string) *StrategyError {
	return &StrategyError{
		BaseError: BaseError{Kind: StrategyParse, Message: message},
		File:      file,
		Line:      line,
	}
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// FirewallError reports a backend tool failure during setup or cleanup.
type FirewallError struct {
	BaseError
	Backend   string
	Operation string
}

func NewFirewallError(backend, operation, message string, cause error) *FirewallError {
	return &FirewallError{
		BaseError: BaseError{Kind: FirewallSetup, Message: message, Cause: cause},
		Backend:   backend,
		Operation: operation,
	}
}

// ProcessError reports a spawn, signal, or reap failure.
type ProcessError struct {
	BaseError
	Command string
	PID     int
}

func NewProcessError(command string, pid int, message string, cause error) *ProcessError {
	return &ProcessError{
		BaseError: BaseError{Kind: ProcessManagement, Message: message, Cause: cause},
		Command:   command,
		PID:       pid,
	}
}

// ServiceError reports an init-system operation failure, used only at the
// boundary with the external service installer.
type ServiceError struct {
	BaseError
	InitSystem string
	Operation  string
}

func NewServiceError(initSystem, operation, message string, cause error) *ServiceError {
	return &ServiceError{
		BaseError: BaseError{Kind: ServiceOperation, Message: message, Cause: cause},
		InitSystem: initSystem,
		Operation:  operation,
	}
}

// SessionError reports a request incompatible with the current session
// state (e.g. start while already active).
type SessionError struct {
	BaseError
	Requested string
	Current   string
}

func NewSessionError(requested, current, message string) *SessionError {
	return &SessionError{
		BaseError: BaseError{Kind: SessionState, Message: message},
		Requested: requested,
		Current:   current,
	}
}

// Wrap attaches a kind-preserving cause to message. If err already carries a
// kind via BaseError, that kind is preserved in the wrapping chain through
// Unwrap; Wrap itself does not change the kind, it only adds context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// FromOS classifies a bare OS-level error into NotFound, PermissionDenied,
// or Timeout, falling back to nil (not classifiable) when none apply.
func FromOS(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return &BaseError{Kind: NotFound, Message: err.Error(), Cause: err}
	case os.IsPermission(err):
		return &BaseError{Kind: PermissionDenied, Message: err.Error(), Cause: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return &BaseError{Kind: Timeout, Message: err.Error(), Cause: err}
	default:
		return nil
	}
}

// Is reports whether err matches kind anywhere in its unwrap chain.
func Is(err error, kind Kind) bool {
	return errors.Is(err, sentinelFor(kind))
}

// As is a thin re-export of errors.As so callers importing this package do
// not also need to import errors for the common case.
func As(err error, target any) bool { return errors.As(err, target) }
