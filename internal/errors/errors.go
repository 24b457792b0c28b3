// Package errors provides centralized error definitions for the coworker
// runtime. It defines the typed errors the executor and daemon branch on
// (plan validation, approval), sentinel errors for store and lock
// conditions, and a wrapper for tool primitive failures.
//
// Standard library helpers are re-exported so callers can import only this
// package for all error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors shared across the runtime.
var (
	// ErrTaskNotFound is returned by the store when a task ID does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrHashMismatch indicates the plan on disk no longer matches the hash
	// recorded with the task. The task must fail rather than execute.
	ErrHashMismatch = errors.New("plan hash mismatch; refusing to execute")

	// ErrLockBusy indicates an overlapping path lock is held by another task.
	ErrLockBusy = errors.New("path locks busy")

	// ErrCanceled indicates the task was canceled by the user.
	ErrCanceled = errors.New("task canceled")

	// ErrRuntimeDisabled indicates the durable runtime is not enabled in
	// configuration or environment.
	ErrRuntimeDisabled = errors.New("coworker runtime disabled")
)

// PlanValidationError reports one or more structural or policy violations
// in a plan. It is fatal to the current execution attempt.
type PlanValidationError struct {
	Problems []string
}

// NewPlanValidation creates a PlanValidationError from the given problems.
func NewPlanValidation(problems ...string) *PlanValidationError {
	return &PlanValidationError{Problems: problems}
}

func (e *PlanValidationError) Error() string {
	return strings.Join(e.Problems, "\n")
}

// ApprovalError indicates a required approval is missing or does not match
// the plan hash or checkpoint being executed. It is non-fatal: the task
// transitions to waiting_approval.
type ApprovalError struct {
	Reason string
}

func (e *ApprovalError) Error() string {
	return e.Reason
}

// ToolError wraps a failure inside a tool primitive with the tool name,
// so the daemon can attribute it to the failing call.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// IsPlanValidation reports whether err is (or wraps) a PlanValidationError.
func IsPlanValidation(err error) bool {
	var pv *PlanValidationError
	return errors.As(err, &pv)
}

// IsApproval reports whether err is (or wraps) an ApprovalError.
func IsApproval(err error) bool {
	var ap *ApprovalError
	return errors.As(err, &ap)
}
