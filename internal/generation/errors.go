package generation

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter matches every *ParamError.
var ErrInvalidParameter = errors.New("invalid parameter")

type ParamError struct {
	Msg string
}

func (e *ParamError) Error() string { return e.Msg }

func (e *ParamError) Is(target error) bool { return target == ErrInvalidParameter }

func paramErrorf(format string, args ...any) error {
	return &ParamError{Msg: fmt.Sprintf(format, args...)}
}

type ImageGenerationError struct {
	Model string
	Err   error
}

func (e *ImageGenerationError) Error() string {
	return fmt.Sprintf("image generation (%s) failed: %v", e.Model, e.Err)
}

func (e *ImageGenerationError) Unwrap() error { return e.Err }

type VideoGenerationError struct {
	Step string
	Err  error
}

func (e *VideoGenerationError) Error() string {
	return fmt.Sprintf("video generation failed at %s: %v", e.Step, e.Err)
}

func (e *VideoGenerationError) Unwrap() error { return e.Err }

type MotionConfigError struct {
	Msg string
}

func (e *MotionConfigError) Error() string { return e.Msg }
