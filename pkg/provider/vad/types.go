package vad

// Event represents a voice activity detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Energy is the RMS energy of the frame.
	Energy float64

	// Utterance is set only when Type is [SpeechEnd].
	Utterance *Utterance
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates an open speech run, loud or briefly quiet.
	SpeechContinue

	// SpeechEnd indicates a speech run just closed and an utterance was emitted.
	SpeechEnd

	// Silence indicates no speech run is open.
	Silence
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "SPEECH_START"
	case SpeechContinue:
		return "SPEECH_CONTINUE"
	case SpeechEnd:
		return "SPEECH_END"
	case Silence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}

// Utterance is one detected speech run plus its trailing silence. Ownership
// passes to the receiver; the emitting session keeps no reference to Samples.
type Utterance struct {
	// Samples holds every sample accumulated for the run, including any
	// audio buffered before onset.
	Samples []float32

	// Duration is the time since speech onset in seconds, trailing silence
	// included.
	Duration float64
}
