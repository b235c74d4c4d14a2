package pipeline

import "fmt"

// State is a phase of the conversational cycle. Exactly one state is active
// at a time.
type State int32

const (
	// StateIdle means the pipeline is waiting for a start signal or the wake
	// phrase. Only wake-word detection consumes input in this state.
	StateIdle State = iota

	// StateListening means the pipeline is capturing a user utterance.
	StateListening

	// StateProcessing means a complete utterance is being transcribed and sent
	// to the conversational gateway.
	StateProcessing

	// StateSpeaking means synthesized audio is being played back. Barge-in
	// monitoring is active only in this state.
	StateSpeaking
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// canTransition reports whether from → to is part of the cycle. Any state may
// move to idle except idle itself.
func canTransition(from, to State) bool {
	switch to {
	case StateIdle:
		return from != StateIdle
	case StateListening:
		return from == StateIdle || from == StateSpeaking
	case StateProcessing:
		return from == StateListening
	case StateSpeaking:
		return from == StateProcessing
	}
	return false
}
