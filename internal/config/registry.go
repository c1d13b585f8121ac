package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/asr"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SourceFactory builds a capture source from its entry plus the resolved
// frame geometry.
type SourceFactory func(entry ProviderEntry, audioCfg AudioConfig) (audio.Source, error)

// Registry maps implementation names to their constructor functions for
// each pluggable component kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	source     map[string]SourceFactory
	wake       map[string]func(ProviderEntry) (wake.Engine, error)
	vad        map[string]func(ProviderEntry) (vad.Engine, error)
	recognizer map[string]func(ProviderEntry) (asr.Recognizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		source:     make(map[string]SourceFactory),
		wake:       make(map[string]func(ProviderEntry) (wake.Engine, error)),
		vad:        make(map[string]func(ProviderEntry) (vad.Engine, error)),
		recognizer: make(map[string]func(ProviderEntry) (asr.Recognizer, error)),
	}
}

// RegisterSource registers a capture source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// RegisterWake registers a wake-spotter engine factory under name.
func (r *Registry) RegisterWake(name string, factory func(ProviderEntry) (wake.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterRecognizer registers a recognizer factory under name.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer[name] = factory
}

// CreateSource instantiates a capture source using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateSource(entry ProviderEntry, audioCfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.source[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, audioCfg)
}

// CreateWake instantiates a wake-spotter engine using the factory
// registered under entry.Name.
func (r *Registry) CreateWake(entry ProviderEntry) (wake.Engine, error) {
	r.mu.RLock()
	factory, ok := r.wake[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wake/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under
// entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under entry.Name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.recognizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
