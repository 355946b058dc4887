package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxslice/pkg/extract"
	"github.com/MrWong99/voxslice/pkg/provider/vad"
)

// ErrComponentNotRegistered is returned by Create* methods when no factory
// has been registered under the requested name.
var ErrComponentNotRegistered = errors.New("config: component not registered")

// Registry maps component names to their constructor functions for each
// component kind. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	vad   map[string]func(SegmenterConfig) (vad.Engine, error)
	codec map[string]func(RecorderConfig) (extract.Codec, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:   make(map[string]func(SegmenterConfig) (vad.Engine, error)),
		codec: make(map[string]func(RecorderConfig) (extract.Codec, error)),
	}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(SegmenterConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterCodec registers a recorder slot codec factory under name.
func (r *Registry) RegisterCodec(name string, factory func(RecorderConfig) (extract.Codec, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codec[name] = factory
}

// CreateVAD instantiates the VAD engine registered under cfg.VAD.
// Returns [ErrComponentNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateVAD(cfg SegmenterConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.VAD]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrComponentNotRegistered, cfg.VAD)
	}
	return factory(cfg)
}

// CreateCodec instantiates the slot codec registered under cfg.Codec.
func (r *Registry) CreateCodec(cfg RecorderConfig) (extract.Codec, error) {
	r.mu.RLock()
	factory, ok := r.codec[cfg.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: codec/%q", ErrComponentNotRegistered, cfg.Codec)
	}
	return factory(cfg)
}

// Names returns the registered names for kind ("vad" or "codec"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "vad":
		for n := range r.vad {
			names = append(names, n)
		}
	case "codec":
		for n := range r.codec {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
