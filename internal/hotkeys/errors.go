package hotkeys

import (
	"errors"
	"fmt"
)

// ErrRecordingAborted is returned by Encode for Escape, which always ends a
// recording without changing any binding.
var ErrRecordingAborted = errors.New("shortcut recording aborted")

// ErrModifierOnly is returned by Encode when the event is a bare modifier
// press. Callers keep waiting for the next event.
var ErrModifierOnly = errors.New("modifier key pressed without a key")

// ValidationReason classifies a rejected shortcut.
type ValidationReason string

const (
	ReasonReservedKey     ValidationReason = "reserved-key"
	ReasonMissingModifier ValidationReason = "missing-modifier"
	ReasonUnknownKey      ValidationReason = "unknown-key"
)

// ValidationError reports a key event or accelerator that cannot become a
// binding.
type ValidationError struct {
	Reason ValidationReason
	Key    string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonReservedKey:
		return fmt.Sprintf("%s is reserved by the system and cannot be used as a shortcut", e.Key)
	case ReasonMissingModifier:
		return fmt.Sprintf("%s needs at least one modifier (Ctrl, Alt, Shift or Win); only F1-F12 can be used alone", e.Key)
	default:
		return fmt.Sprintf("unknown key %q", e.Key)
	}
}
