package loader

import (
	"errors"
	"fmt"
)

type Kind int

const (
	EngineLoad Kind = iota + 1
	DetectorLoad
	ModelLoad
)

var (
	ErrEngineLoad   = errors.New("vision engine failed to load")
	ErrDetectorLoad = errors.New("face detector failed to load")
	ErrModelLoad    = errors.New("emotion model failed to load")
)

func (k Kind) sentinel() error {
	switch k {
	case EngineLoad:
		return ErrEngineLoad
	case DetectorLoad:
		return ErrDetectorLoad
	case ModelLoad:
		return ErrModelLoad
	default:
		return errors.New("unknown load failure")
	}
}

func (k Kind) String() string {
	switch k {
	case EngineLoad:
		return "engine"
	case DetectorLoad:
		return "detector"
	case ModelLoad:
		return "model"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// LoadError is returned by Initialize. errors.Is matches it against the
// sentinel of its kind as well as the wrapped cause.
type LoadError struct {
	Kind Kind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func loadErr(kind Kind, format string, args ...any) *LoadError {
	return &LoadError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
