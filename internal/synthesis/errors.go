package synthesis

import (
	"errors"
	"fmt"
)

// ValidationError reports bad caller input. The message is safe to show to users.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// EngineError wraps a failure from the engine or the voice store.
type EngineError struct {
	Stage string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NormalizationError means the engine output could not be reduced to one waveform.
type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string {
	return "normalize output: " + e.Reason
}

const (
	StageVoice      = "voice"
	StageSynthesize = "synthesize"
)

// ErrorKind classifies an error returned by this package.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindEngine        ErrorKind = "engine"
	KindNormalization ErrorKind = "normalization"
	KindInternal      ErrorKind = "internal"
)

// Classify maps err onto the error taxonomy. A nil error has no kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	var nerr *NormalizationError
	if errors.As(err, &nerr) {
		return KindNormalization
	}
	var eerr *EngineError
	if errors.As(err, &eerr) {
		return KindEngine
	}
	return KindInternal
}
