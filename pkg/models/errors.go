package models

import (
	"errors"
	"fmt"
)

// ErrorKind identifies one failure class of the token pipeline. Kinds are
// surfaced verbatim to HTTP clients, so their string values are part of the
// API contract.
type ErrorKind string

const (
	KindSessionStartFailure  ErrorKind = "SessionStartFailure"
	KindNavigationFailure    ErrorKind = "NavigationFailure"
	KindUnsupportedChallenge ErrorKind = "UnsupportedChallenge"
	KindSolverRejected       ErrorKind = "SolverRejected"
	KindSolverTimeout        ErrorKind = "SolverTimeout"
	KindInjectionFailure     ErrorKind = "InjectionFailure"
	KindInvalidCredentials   ErrorKind = "InvalidCredentials"
	KindLoginTimeout         ErrorKind = "LoginTimeout"
	KindUnexpectedChallenge  ErrorKind = "UnexpectedChallenge"
	KindTokenNotFound        ErrorKind = "TokenNotFound"
	KindStageTimeout         ErrorKind = "StageTimeout"
	KindCapacityExceeded     ErrorKind = "CapacityExceeded"
)

// Transient reports whether a whole-pipeline retry may recover from this
// kind. Everything not listed here is terminal and short-circuits the run.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindSessionStartFailure, KindNavigationFailure, KindSolverTimeout:
		return true
	}
	return false
}

// Stage names the pipeline stage an error occurred in. Used for
// StageTimeout(stage) rendering and for log context.
type Stage string

const (
	StageOpen     Stage = "open"
	StageNavigate Stage = "navigate"
	StageDetect   Stage = "detect"
	StageSolve    Stage = "solve"
	StageInject   Stage = "inject"
	StageVerify   Stage = "verify"
	StageLogin    Stage = "login"
	StageExtract  Stage = "extract"
)

// PipelineError is the single error type that crosses component boundaries.
// Every component failure is converted into one of these before the
// orchestrator returns, so the HTTP layer never sees a bare error.
type PipelineError struct {
	Kind   ErrorKind
	Stage  Stage
	Detail string
	Err    error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.KindString(), e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.KindString(), e.Detail)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// KindString renders the kind for the wire. StageTimeout carries the stage
// it fired in, e.g. "StageTimeout(login)".
func (e *PipelineError) KindString() string {
	if e.Kind == KindStageTimeout && e.Stage != "" {
		return fmt.Sprintf("%s(%s)", KindStageTimeout, e.Stage)
	}
	return string(e.Kind)
}

// NewError builds a PipelineError without an underlying cause.
func NewError(kind ErrorKind, stage Stage, detail string) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Detail: detail}
}

// WrapError builds a PipelineError around an underlying cause.
func WrapError(kind ErrorKind, stage Stage, detail string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Detail: detail, Err: err}
}

// AsPipelineError unwraps err to a *PipelineError if one is in its chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
