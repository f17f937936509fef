package book

import "sync"

// Registry maps symbol to a shared Book. Lookup is concurrent; creation is
// serialized behind a mutex; entries are never removed (spec §4.2).
type Registry struct {
	mu     sync.Mutex
	byName map[string]*Book
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Book)}
}

// GetOrCreate returns the book for symbol, creating it on first mention.
// The returned pointer is shared with any other caller that resolves the
// same symbol.
func (r *Registry) GetOrCreate(symbol string) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byName[symbol]
	if !ok {
		b = New()
		r.byName[symbol] = b
	}
	return b
}

// Get performs a read-only lookup, returning ok=false if the symbol has no
// book yet.
func (r *Registry) Get(symbol string) (*Book, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byName[symbol]
	return b, ok
}

// Symbols returns a snapshot copy of all registered symbols.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.byName))
	for s := range r.byName {
		out = append(out, s)
	}
	return out
}
