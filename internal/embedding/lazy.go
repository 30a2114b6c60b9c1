package embedding

import (
	"context"
	"sync"
)

// Lazy defers construction of an Embedder until the first embedding request,
// so starting the server does not pay the model warm-up cost. A failed
// construction is retried on the next call.
type Lazy struct {
	factory func() (Embedder, error)

	mu       sync.Mutex
	embedder Embedder
}

// NewLazy wraps a factory in a lazily initialized Embedder.
func NewLazy(factory func() (Embedder, error)) *Lazy {
	return &Lazy{factory: factory}
}

func (l *Lazy) get() (Embedder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.embedder == nil {
		e, err := l.factory()
		if err != nil {
			return nil, err
		}
		l.embedder = e
	}
	return l.embedder, nil
}

// EmbedTexts initializes the underlying Embedder on first use.
func (l *Lazy) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.get()
	if err != nil {
		return nil, err
	}
	return e.EmbedTexts(ctx, texts)
}

// Dimensions returns the fixed vector width without forcing initialization.
func (l *Lazy) Dimensions() int { return Dimensions }
