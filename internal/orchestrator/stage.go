package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// Stage names one step of a generation run. The value is also the
// step_code reported to streaming clients.
type Stage string

const (
	StageScript      Stage = "script_generation"
	StageVoice       Stage = "voice_selection"
	StagePlaceholder Stage = "placeholder_insert"
	StageEnrich      Stage = "enrichment_spawn"
	StageSynthesis   Stage = "audio_generation"
	StageUpload      Stage = "saving"
	StageFinalize    Stage = "finalize"
)

// Kind says whether a stage failure aborts the run.
type Kind int

const (
	Soft Kind = iota
	Fatal
)

func (k Kind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "soft"
}

// StageError is the only error shape stages hand back to the run loop.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func fatal(stage Stage, err error) *StageError { return &StageError{Stage: stage, Kind: Fatal, Err: err} }
func soft(stage Stage, err error) *StageError  { return &StageError{Stage: stage, Kind: Soft, Err: err} }

// IsFatal reports whether err carries a fatal StageError.
func IsFatal(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == Fatal
}

// StepCode returns the stage of a StageError, or "" for other errors.
func StepCode(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return ""
}

// Deadlines bounds every external call of a run.
type Deadlines struct {
	Script    time.Duration
	Synthesis time.Duration
	Upload    time.Duration
	Store     time.Duration
}

func DefaultDeadlines() Deadlines {
	return Deadlines{
		Script:    3 * time.Minute,
		Synthesis: 3 * time.Minute,
		Upload:    time.Minute,
		Store:     10 * time.Second,
	}
}

func (d Deadlines) withDefaults() Deadlines {
	def := DefaultDeadlines()
	if d.Script <= 0 {
		d.Script = def.Script
	}
	if d.Synthesis <= 0 {
		d.Synthesis = def.Synthesis
	}
	if d.Upload <= 0 {
		d.Upload = def.Upload
	}
	if d.Store <= 0 {
		d.Store = def.Store
	}
	return d
}
