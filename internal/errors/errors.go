package errors

import (
	"errors"
	"fmt"
)

/**
 * Custom error types for the ingestion worker.
 *
 * Four kinds, matching how the pipeline reacts to each:
 * - INPUT_ERROR: rejected before any stage runs, surfaced to the caller
 * - STAGE_FAILURE: a single page degraded, the document run continues
 * - RASTERIZATION_UNAVAILABLE: whole-document rasterization failed, the
 *   loader falls back to embedded page text
 * - TERMINAL_FAILURE: unhandled fault, document marked failed
 */

// Kind classifies a pipeline error
type Kind string

const (
	KindInput                    Kind = "INPUT_ERROR"
	KindStageFailure             Kind = "STAGE_FAILURE"
	KindRasterizationUnavailable Kind = "RASTERIZATION_UNAVAILABLE"
	KindTerminal                 Kind = "TERMINAL_FAILURE"
)

// PipelineError is a structured error carrying document and page context
type PipelineError struct {
	Kind       Kind
	Message    string
	DocumentID string
	Page       int // 1-based page number, 0 when not page-scoped
	Stage      string
	Cause      error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Factory functions for each kind

func NewInputError(message string) *PipelineError {
	return &PipelineError{
		Kind:    KindInput,
		Message: message,
	}
}

func NewStageFailure(documentID string, page int, stage string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindStageFailure,
		Message:    fmt.Sprintf("page %d failed during %s", page, stage),
		DocumentID: documentID,
		Page:       page,
		Stage:      stage,
		Cause:      cause,
	}
}

func NewRasterizationUnavailable(documentID string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindRasterizationUnavailable,
		Message:    "document rasterization unavailable",
		DocumentID: documentID,
		Cause:      cause,
	}
}

func NewTerminalFailure(documentID string, stage string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindTerminal,
		Message:    fmt.Sprintf("unhandled failure during %s", stage),
		DocumentID: documentID,
		Stage:      stage,
		Cause:      cause,
	}
}

// IsKind reports whether err is (or wraps) a PipelineError of the given kind
func IsKind(err error, kind Kind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

func IsInputError(err error) bool   { return IsKind(err, KindInput) }
func IsStageFailure(err error) bool { return IsKind(err, KindStageFailure) }

func IsRasterizationUnavailable(err error) bool {
	return IsKind(err, KindRasterizationUnavailable)
}
