// Package handler implements the submission validation pipeline and the
// child-process boundary around the sandbox executor.
package handler

import (
	"encoding/json"
	"log"

	"judgeworker/core"
)

// ErrorCode is the closed set of rejection reasons a submission can hit
// before ever reaching the sandbox, matching message_handler.py's
// validation order exactly: retry-exhaustion, JSON parse, required
// fields, then empty testcases.
type ErrorCode string

const (
	ErrMaxRetryExceeded     ErrorCode = "MAX_RETRY_EXCEEDED"
	ErrInvalidJSON          ErrorCode = "INVALID_JSON"
	ErrMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELDS"
	ErrNoTestcases          ErrorCode = "NO_TESTCASES"
)

var errorMessages = map[ErrorCode]string{
	ErrMaxRetryExceeded:     "message exceeded max retry count",
	ErrInvalidJSON:          "invalid JSON message",
	ErrMissingRequiredField: "missing required fields",
	ErrNoTestcases:          "submission has no testcases",
}

// ValidationError carries the submission id (best-effort, may be "unknown")
// alongside the rejection code so a reply can be assembled without ever
// constructing a Decision.
type ValidationError struct {
	SubmissionID string
	Code         ErrorCode
}

func (e *ValidationError) Error() string {
	return string(e.Code) + ": " + errorMessages[e.Code]
}

// Ceilings a submission's declared limits can never exceed. Not
// configurable. They apply to the declared limits only: a configured
// default (DEFAULT_TIME_LIMIT, DEFAULT_MEMORY_LIMIT) is used as given.
const (
	maxTimeLimitSec  = 60
	maxMemoryLimitKB = 2097152
)

// Validated is a Submission whose limits have been clamped into range and
// whose required fields are confirmed present.
type Validated struct {
	core.Submission
	TimeLimitSec  int
	MemoryLimitKB int
}

// Limits carries the configured fallback limits (DEFAULT_TIME_LIMIT,
// DEFAULT_MEMORY_LIMIT) ValidateBody substitutes for a submission that omits
// or mis-declares its own.
type Limits struct {
	DefaultTimeLimitSec  int
	DefaultMemoryLimitKB int
}

// ValidateBody parses and validates a raw message body. retryCount comes
// from the x-retry-count header, maxRetry from MAX_RETRY_COUNT config.
func ValidateBody(body []byte, retryCount, maxRetry int, defaults Limits) (*Validated, *ValidationError) {
	if retryCount >= maxRetry {
		submissionID := peekSubmissionID(body)
		log.Printf("message exceeded max retry count (%d)", maxRetry)
		return nil, &ValidationError{SubmissionID: submissionID, Code: ErrMaxRetryExceeded}
	}

	var sub core.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		log.Printf("invalid JSON message: %v", err)
		return nil, &ValidationError{SubmissionID: "unknown", Code: ErrInvalidJSON}
	}

	if sub.SubmissionID == "" || sub.Language == "" || sub.Code == "" {
		return nil, &ValidationError{SubmissionID: firstNonEmptyID(sub.SubmissionID), Code: ErrMissingRequiredField}
	}

	if len(sub.Testcases) == 0 {
		return nil, &ValidationError{SubmissionID: sub.SubmissionID, Code: ErrNoTestcases}
	}

	defaultTimeLimitSec := defaults.DefaultTimeLimitSec
	if defaultTimeLimitSec <= 0 {
		defaultTimeLimitSec = 3
	}
	defaultMemoryLimitKB := defaults.DefaultMemoryLimitKB
	if defaultMemoryLimitKB <= 0 {
		defaultMemoryLimitKB = 262144
	}

	timeLimitSec := sub.TimeLimit / 1000
	if timeLimitSec <= 0 || timeLimitSec > maxTimeLimitSec {
		log.Printf("invalid TimeLimit for %s: %ds, using default %ds", sub.SubmissionID, timeLimitSec, defaultTimeLimitSec)
		timeLimitSec = defaultTimeLimitSec
	}

	memoryLimitKB := sub.MemoryLimit
	if memoryLimitKB <= 0 || memoryLimitKB > maxMemoryLimitKB {
		log.Printf("invalid MemoryLimit for %s: %dKB, using default %dKB", sub.SubmissionID, memoryLimitKB, defaultMemoryLimitKB)
		memoryLimitKB = defaultMemoryLimitKB
	}

	return &Validated{Submission: sub, TimeLimitSec: timeLimitSec, MemoryLimitKB: memoryLimitKB}, nil
}

func peekSubmissionID(body []byte) string {
	var probe struct {
		SubmissionId string
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.SubmissionId != "" {
		return probe.SubmissionId
	}
	return "unknown"
}

func firstNonEmptyID(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}

// ToErrorReply builds the reply for a validation failure.
func (e *ValidationError) ToErrorReply() core.Reply {
	return core.Reply{
		SubmissionID: e.SubmissionID,
		ErrorCode:    string(e.Code),
		ErrorMessage: errorMessages[e.Code],
	}
}
