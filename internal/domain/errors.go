package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Agent lifecycle errors.
var (
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
	ErrNotRunning        = fmt.Errorf("agent not running")
	ErrNoModel           = fmt.Errorf("no model attached")
)

// Model errors.
var (
	ErrModelFailure     = fmt.Errorf("model inference failed")
	ErrModelUnavailable = fmt.Errorf("model unavailable")
)

// Dispatcher errors.
var (
	ErrNotInitialized     = fmt.Errorf("dispatcher not initialized")
	ErrAlreadyInitialized = fmt.Errorf("dispatcher already initialized")
	ErrQueueFull          = fmt.Errorf("%w: task queue full", ErrLimitReached)
)

// ErrConfigLoad is returned when configuration cannot be loaded.
var ErrConfigLoad = fmt.Errorf("failed to load configuration")

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Agent.Start")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "agent", "dispatch"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeLimitReached       ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	CodeNotRunning         ErrorCode = "NOT_RUNNING"
	CodeNoModel            ErrorCode = "NO_MODEL"
	CodeModelFailure       ErrorCode = "MODEL_FAILURE"
	CodeModelUnavailable   ErrorCode = "MODEL_UNAVAILABLE"
	CodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	CodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"
	CodeQueueFull          ErrorCode = "QUEUE_FULL"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeAgentNotFound  ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate ErrorCode = "AGENT_DUPLICATE"
	CodeModelNotFound  ErrorCode = "MODEL_NOT_FOUND"
	CodeModelDuplicate ErrorCode = "MODEL_DUPLICATE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:           CodeNotFound,
	ErrDuplicate:          CodeDuplicate,
	ErrLimitReached:       CodeLimitReached,
	ErrInvalidInput:       CodeInvalidInput,
	ErrInvalidTransition:  CodeInvalidTransition,
	ErrNotRunning:         CodeNotRunning,
	ErrNoModel:            CodeNoModel,
	ErrModelFailure:       CodeModelFailure,
	ErrModelUnavailable:   CodeModelUnavailable,
	ErrNotInitialized:     CodeNotInitialized,
	ErrAlreadyInitialized: CodeAlreadyInitialized,
	ErrQueueFull:          CodeQueueFull,
	ErrConfigLoad:         CodeConfigLoad,
}

// orderedSentinels lists specific sentinels before the categories they wrap,
// so chain walks resolve ErrQueueFull before ErrLimitReached.
var orderedSentinels = []error{
	ErrQueueFull,
	ErrInvalidTransition,
	ErrNotRunning,
	ErrNoModel,
	ErrModelUnavailable,
	ErrModelFailure,
	ErrNotInitialized,
	ErrAlreadyInitialized,
	ErrConfigLoad,
	ErrNotFound,
	ErrDuplicate,
	ErrInvalidInput,
	ErrLimitReached,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent": CodeAgentNotFound,
		"model": CodeModelNotFound,
	},
	ErrDuplicate: {
		"agent": CodeAgentDuplicate,
		"model": CodeModelDuplicate,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range orderedSentinels {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
