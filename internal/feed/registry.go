package feed

// Registry fixes the display order of symbols: the order in which each symbol
// first appeared in the feed. Symbols are never forgotten.
//
// Registry is not synchronized. The consumer goroutine is its only writer and
// readers go through the consumer's published state.
type Registry struct {
	order []string
	known map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{known: make(map[string]struct{})}
}

// Register appends every symbol not seen before, preserving first-seen order.
// Registering a known symbol is a no-op.
func (r *Registry) Register(symbols []string) {
	for _, s := range symbols {
		if _, ok := r.known[s]; ok {
			continue
		}
		r.known[s] = struct{}{}
		r.order = append(r.order, s)
	}
}

// Order returns a copy of the fixed symbol sequence.
func (r *Registry) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Contains reports whether symbol has been registered.
func (r *Registry) Contains(symbol string) bool {
	_, ok := r.known[symbol]
	return ok
}

// Len returns the number of registered symbols.
func (r *Registry) Len() int { return len(r.order) }
