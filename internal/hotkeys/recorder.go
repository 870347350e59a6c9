package hotkeys

import (
	"errors"
	"sync"
)

// Outcome classifies what a key event did to a recording session.
type Outcome int

const (
	// OutcomeInactive means no recording was in progress.
	OutcomeInactive Outcome = iota
	// OutcomeIgnored means the event was a bare modifier; recording continues.
	OutcomeIgnored
	// OutcomeAborted means Escape ended the recording.
	OutcomeAborted
	// OutcomeRejected means the key failed validation; recording ended.
	OutcomeRejected
	// OutcomeRecorded means a binding was captured; recording ended.
	OutcomeRecorded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAborted:
		return "aborted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRecorded:
		return "recorded"
	default:
		return "inactive"
	}
}

// RecordResult is the result of feeding one key event to a Recorder.
type RecordResult struct {
	Outcome Outcome
	Action  string
	Binding Binding
	Err     error
}

// Recorder tracks a single shortcut recording session. Only the recorded
// binding leaves the recorder; it never mutates settings itself.
type Recorder struct {
	mu     sync.Mutex
	action string
	active bool
}

// Start begins recording for action. An active recording for any action is
// cancelled first; its action is returned so callers can report it.
func (r *Recorder) Start(action string) (cancelled string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		cancelled = r.action
	}
	r.action = action
	r.active = true
	return cancelled
}

// Cancel ends the active recording. It reports whether one was active.
func (r *Recorder) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	wasActive := r.active
	r.action = ""
	r.active = false
	return wasActive
}

// Active returns the action being recorded.
func (r *Recorder) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.action, r.active
}

// HandleKey feeds one key event into the active session.
func (r *Recorder) HandleKey(ev KeyEvent) RecordResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return RecordResult{Outcome: OutcomeInactive}
	}
	action := r.action

	binding, err := Encode(ev)
	switch {
	case err == nil:
		r.finishLocked()
		return RecordResult{Outcome: OutcomeRecorded, Action: action, Binding: binding}
	case errors.Is(err, ErrModifierOnly):
		return RecordResult{Outcome: OutcomeIgnored, Action: action}
	case errors.Is(err, ErrRecordingAborted):
		r.finishLocked()
		return RecordResult{Outcome: OutcomeAborted, Action: action}
	default:
		r.finishLocked()
		return RecordResult{Outcome: OutcomeRejected, Action: action, Err: err}
	}
}

func (r *Recorder) finishLocked() {
	r.action = ""
	r.active = false
}
