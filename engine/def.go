package engine

import (
	"errors"
	"fmt"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const ERROR = 0x0005

var (
	ErrNotLoaded   = errors.New("model not loaded")
	ErrEmptyOutput = errors.New("forward pass produced no output")
)

// stateName is used in log fields and error messages.
func stateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case REGISTERED:
		return "registered"
	case IDLE:
		return "idle"
	case ERROR:
		return "error"
	default:
		return fmt.Sprintf("unknown(%#x)", state)
	}
}
