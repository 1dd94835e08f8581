// Package apperrors defines the typed error kinds the agent loop and run
// controller surface per the error handling design: RateLimited and
// BudgetExceeded are recoverable, StreamError/ToolError are recorded as
// transcript entries. A transcript-store PersistenceError is logged by the
// agent loop, which appends a system note and continues the turn; the run
// controller does not act on PersistenceError or Fatal.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError for switch-based handling upstream.
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"

	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeBudgetExceeded  ErrorCode = "BUDGET_EXCEEDED"
	CodeStreamError     ErrorCode = "STREAM_ERROR"
	CodeToolError       ErrorCode = "TOOL_ERROR"
	CodePersistence     ErrorCode = "PERSISTENCE_ERROR"
	CodeFatal           ErrorCode = "FATAL"
)

// RateLimitKind names which bucket (or queue condition) rejected an acquire.
type RateLimitKind string

const (
	RateLimitRPM       RateLimitKind = "rpm"
	RateLimitITPM      RateLimitKind = "itpm"
	RateLimitOTPM      RateLimitKind = "otpm"
	RateLimitQueueFull RateLimitKind = "queue_full"
	RateLimitTimeout   RateLimitKind = "timeout"
)

// BudgetKind names which accounting dimension tripped the configured limit.
type BudgetKind string

const (
	BudgetInput  BudgetKind = "input"
	BudgetOutput BudgetKind = "output"
	BudgetTotal  BudgetKind = "total"
	BudgetCost   BudgetKind = "cost"
)

// StreamKind names how a provider stream failed.
type StreamKind string

const (
	StreamTruncated StreamKind = "truncated"
	StreamTransport StreamKind = "transport"
	StreamProtocol  StreamKind = "protocol"
)

// AppError is the common error envelope. Code drives handling upstream; Err
// carries the underlying cause, if any, for errors.Unwrap/errors.As chains.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	// RateLimit is set only when Code == CodeRateLimited.
	RateLimit *RateLimitDetail
	// Budget is set only when Code == CodeBudgetExceeded.
	Budget *BudgetDetail
	// Stream is set only when Code == CodeStreamError.
	Stream StreamKind
}

// RateLimitDetail carries the remaining wait and limit kind for a RateLimited error.
type RateLimitDetail struct {
	Kind         RateLimitKind
	RemainingMs  int64
	QueuePosition int
}

// BudgetDetail carries which metric tripped and by how much for a BudgetExceeded error.
type BudgetDetail struct {
	Kind    BudgetKind
	Current float64
	Limit   float64
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// NewRateLimitedError builds a RateLimited error carrying the dominant bucket
// kind and the caller's remaining wait, per §4.1's "fail with error tagged by
// the dominant bucket" rule.
func NewRateLimitedError(kind RateLimitKind, remainingMs int64) *AppError {
	return &AppError{
		Code:      CodeRateLimited,
		Message:   fmt.Sprintf("rate limited: %s", kind),
		RateLimit: &RateLimitDetail{Kind: kind, RemainingMs: remainingMs},
	}
}

// NewBudgetExceededError builds a BudgetExceeded error naming the first
// limit that tripped, per §4.2's check_budget contract.
func NewBudgetExceededError(kind BudgetKind, current, limit float64) *AppError {
	return &AppError{
		Code:    CodeBudgetExceeded,
		Message: fmt.Sprintf("%s limit exceeded: %.4f >= %.4f", kind, current, limit),
		Budget:  &BudgetDetail{Kind: kind, Current: current, Limit: limit},
	}
}

// NewStreamError builds a StreamError of the given kind.
func NewStreamError(kind StreamKind, message string, cause error) *AppError {
	return &AppError{Code: CodeStreamError, Message: message, Err: cause, Stream: kind}
}

// NewPersistenceError builds a PersistenceError; U logs and swallows these,
// and A logs a transcript-store one, appends a system note and goes on with
// the turn.
func NewPersistenceError(message string, cause error) *AppError {
	return &AppError{Code: CodePersistence, Message: message, Err: cause}
}

// NewFatalError builds a Fatal error: store-open failure, mutex poisoning, or
// worker-thread join failure. R initiates orderly shutdown on these.
func NewFatalError(message string, cause error) *AppError {
	return &AppError{Code: CodeFatal, Message: message, Err: cause}
}

func IsNotFound(err error) bool        { return hasCode(err, CodeNotFound) }
func IsInvalidInput(err error) bool    { return hasCode(err, CodeInvalidInput) }
func IsRateLimited(err error) bool     { return hasCode(err, CodeRateLimited) }
func IsBudgetExceeded(err error) bool  { return hasCode(err, CodeBudgetExceeded) }
func IsStreamError(err error) bool     { return hasCode(err, CodeStreamError) }
func IsPersistenceError(err error) bool { return hasCode(err, CodePersistence) }
func IsFatal(err error) bool           { return hasCode(err, CodeFatal) }

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As extracts the *AppError from err, if any, mirroring errors.As ergonomics.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
