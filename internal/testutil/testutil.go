// Package testutil provides shared test helpers for vector stores and vectors.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/raido/internal/vectorstore"
)

// TestStore creates a temporary vector store that is automatically cleaned up.
func TestStore(t *testing.T, graph string) *vectorstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), graph+"_vectors.db")
	store := vectorstore.NewStore(graph, vectorstore.WithPath(path))
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

// UnitVector returns a unit vector with a 1 at the given axis.
func UnitVector(axis int) []float32 {
	v := make([]float32, vectorstore.Dimensions)
	v[axis%vectorstore.Dimensions] = 1
	return v
}
