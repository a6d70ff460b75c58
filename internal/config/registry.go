package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	scorers     map[string]func(VADConfig) (vad.Scorer, error)
	recognizers map[string]func(RecognizerConfig, AudioConfig) (stt.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		scorers:     make(map[string]func(VADConfig) (vad.Scorer, error)),
		recognizers: make(map[string]func(RecognizerConfig, AudioConfig) (stt.Provider, error)),
	}
}

// RegisterScorer registers a VAD scorer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterScorer(name string, factory func(VADConfig) (vad.Scorer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[name] = factory
}

// RegisterRecognizer registers a speech recognizer factory under name. The
// factory also receives the capture format so it can describe the stream.
func (r *Registry) RegisterRecognizer(name string, factory func(RecognizerConfig, AudioConfig) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// CreateScorer instantiates the scorer named by cfg.Scorer.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateScorer(cfg VADConfig) (vad.Scorer, error) {
	r.mu.RLock()
	factory, ok := r.scorers[cfg.Scorer]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: scorer/%q", ErrProviderNotRegistered, cfg.Scorer)
	}
	return factory(cfg)
}

// CreateRecognizer instantiates the recognizer named by cfg.Name. An empty
// name yields a nil provider and no error.
func (r *Registry) CreateRecognizer(cfg RecognizerConfig, audio AudioConfig) (stt.Provider, error) {
	if cfg.Name == "" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.recognizers[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg, audio)
}
