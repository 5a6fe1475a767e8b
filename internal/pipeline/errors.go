package pipeline

import (
	"fmt"

	"github.com/mediaforge/mediaforge/internal/ffmpeg"
)

// Stage names the pipeline phase an error occurred in.
type Stage string

const (
	StageProbe   Stage = "probe"
	StageResolve Stage = "resolve"
	StageBuild   Stage = "build"
	StageEncode  Stage = "encode"
)

// ProcessingError is a job failure annotated with the stage it occurred in
// and, when probing succeeded, the probe result for diagnostics.
type ProcessingError struct {
	Stage Stage
	Probe *ffmpeg.ProbeResult
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func newError(stage Stage, probe *ffmpeg.ProbeResult, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Probe: probe, Err: err}
}
