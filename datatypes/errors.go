// Copyright (C) 2025 Docent Labs (oss@docentlab.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"errors"
	"fmt"
)

// Error categories surfaced as error.category on terminal error events.
const (
	ErrCategoryGuardrailInput       = "guardrail_input"
	ErrCategoryGuardrailOutput      = "guardrail_output"
	ErrCategoryRetrievalUnavailable = "retrieval_unavailable"
	ErrCategoryRerankerUnavailable  = "reranker_unavailable"
	ErrCategoryLLMUnavailable       = "llm_unavailable"
	ErrCategoryCancelled            = "cancelled"
	ErrCategoryInternal             = "internal"
)

// PipelineError is a categorised pipeline failure. Message is safe for the
// client; the wrapped cause stays in telemetry only. Reason, when set,
// is a stable machine-readable token for the rejection (e.g.
// "injection") surfaced alongside the category on the error event.
type PipelineError struct {
	Category string
	Message  string
	Reason   string
	Err      error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func NewPipelineError(category, message string, err error) *PipelineError {
	return &PipelineError{Category: category, Message: message, Err: err}
}

// CategoryOf maps any error to its pipeline category. Context cancellation
// and deadline expiry map to "cancelled"; everything uncategorised is
// "internal".
func CategoryOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryCancelled
	}
	return ErrCategoryInternal
}

// ReasonOf returns the stable rejection token of err, "" when none.
func ReasonOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

// ClientMessage returns the sanitized message for the given error.
func ClientMessage(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "request cancelled"
	}
	return "internal error"
}

func IsGuardrailViolation(err error) bool {
	c := CategoryOf(err)
	return c == ErrCategoryGuardrailInput || c == ErrCategoryGuardrailOutput
}

func IsCancelled(err error) bool {
	return CategoryOf(err) == ErrCategoryCancelled
}
