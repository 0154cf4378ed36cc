// Package codec turns PCM into the byte streams sent to clients.
//
// An Encoder is bound to one input quality and one output quality for its
// whole life. When the input changes the caller closes it and asks the
// Factory for a new one.
package codec

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/media"
)

// Kind identifies a codec family.
type Kind string

const (
	KindMP3 Kind = "mp3"
	KindPCM Kind = "pcm"
)

// ErrUnsupportedQuality is returned when a codec cannot convert between the
// requested input and output qualities.
var ErrUnsupportedQuality = errors.NewStd("unsupported quality")

// Encoder encodes PCM buffers. Encode appends whatever output is ready to
// dst; it may append nothing while the codec is still buffering.
type Encoder interface {
	Encode(dst *bytes.Buffer, buf media.Buffer) error
	Close() error
}

// Factory builds encoders.
type Factory interface {
	NewEncoder(in, out media.Quality) (Encoder, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(in, out media.Quality) (Encoder, error)

// NewEncoder implements Factory.
func (f FactoryFunc) NewEncoder(in, out media.Quality) (Encoder, error) {
	return f(in, out)
}

// Registry maps codec kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Factory returns the factory for kind.
func (r *Registry) Factory(kind Kind) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[kind]
	if !ok {
		return nil, errors.New(fmt.Errorf("no codec registered for %q", kind)).
			Component("codec").
			Category(errors.CategoryNotFound).
			Build()
	}
	return f, nil
}

func unsupported(in, out media.Quality, reason string) error {
	return errors.New(fmt.Errorf("%w: %s (input %s, output %s)", ErrUnsupportedQuality, reason, in, out)).
		Component("codec").
		Category(errors.CategoryValidation).
		Context("input_quality", in.String()).
		Context("output_quality", out.String()).
		Build()
}
