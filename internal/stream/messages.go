package stream

import "github.com/MrWong99/voxslice/pkg/extract"

// Control message types sent by clients as text frames.
const (
	TypeStartRecording = "start_recording"
	TypeStopRecording  = "stop_recording"
	TypeExtract        = "extract"
)

// Message types sent by the server. Sentences use [sentence.TypeSentence].
const (
	TypeSegment = "segment"
	TypeError   = "error"
)

// Control is a client control message. EndMs is nil when the client wants
// everything up to the current recording position.
type Control struct {
	Type    string   `json:"type"`
	StartMs float64  `json:"start_ms,omitempty"`
	EndMs   *float64 `json:"end_ms,omitempty"`
}

// SegmentMessage announces a produced segment and where to fetch it.
type SegmentMessage struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	StartMs    float64 `json:"start_ms"`
	EndMs      float64 `json:"end_ms"`
	DurationMs float64 `json:"duration_ms"`
	Bytes      int     `json:"bytes"`
}

func segmentMessage(s *extract.Segment) SegmentMessage {
	return SegmentMessage{
		Type:       TypeSegment,
		ID:         s.ID,
		URL:        s.URL,
		StartMs:    s.StartMs,
		EndMs:      s.EndMs,
		DurationMs: s.DurationMs,
		Bytes:      len(s.WAV),
	}
}

// ErrorMessage reports a failed request. The stream stays open.
type ErrorMessage struct {
	Type          string `json:"type"`
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
