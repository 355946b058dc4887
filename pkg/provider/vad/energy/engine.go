package energy

import (
	"sync/atomic"

	"github.com/MrWong99/voxslice/pkg/provider/vad"
)

// Engine is the energy-based [vad.Engine]. The zero value is ready to use.
type Engine struct{}

// New returns an energy Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a fresh session backed by a
// [Segmenter].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	seg, err := NewSegmenter(cfg)
	if err != nil {
		return nil, err
	}
	return &session{seg: seg}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	seg    *Segmenter
	closed atomic.Bool
}

func (s *session) ProcessFrame(frame []float32) (vad.Event, error) {
	if s.closed.Load() {
		return vad.Event{}, vad.ErrSessionClosed
	}
	wasSpeaking := s.seg.Speaking()
	utt, ok := s.seg.ProcessFrame(frame)
	ev := vad.Event{Energy: s.seg.LastEnergy()}
	switch {
	case ok:
		ev.Type = vad.SpeechEnd
		ev.Utterance = &utt
	case s.seg.Speaking() && !wasSpeaking:
		ev.Type = vad.SpeechStart
	case s.seg.Speaking():
		ev.Type = vad.SpeechContinue
	default:
		ev.Type = vad.Silence
	}
	return ev, nil
}

func (s *session) Reset() { s.seg.Reset() }

func (s *session) Close() error {
	s.closed.Store(true)
	return nil
}
