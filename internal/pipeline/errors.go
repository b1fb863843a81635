package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrGenerationFailed = errors.New("script generation failed")
	ErrSynthesisFailed  = errors.New("speech synthesis failed")
)

// GenerationFailedError is returned once every script attempt is used up.
type GenerationFailedError struct {
	Attempts int
	Last     error
}

func (e *GenerationFailedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("script generation failed after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("script generation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *GenerationFailedError) Is(target error) bool { return target == ErrGenerationFailed }
func (e *GenerationFailedError) Unwrap() error        { return e.Last }

// SynthesisFailedError wraps any failure of the synthesis stage.
type SynthesisFailedError struct {
	Engine string
	Err    error
}

func (e *SynthesisFailedError) Error() string {
	return fmt.Sprintf("speech synthesis failed (%s): %v", e.Engine, e.Err)
}

func (e *SynthesisFailedError) Is(target error) bool { return target == ErrSynthesisFailed }
func (e *SynthesisFailedError) Unwrap() error        { return e.Err }
