package jsonrpc

import "sync/atomic"

// IDGenerator hands out request ids. The first id is 1 and ids are never
// reused for the life of the generator, so a client keeping one generator
// across reconnects never repeats an id. The zero value is ready to use.
type IDGenerator struct {
	last atomic.Int64
}

// Next returns the next id.
func (g *IDGenerator) Next() int64 {
	return g.last.Add(1)
}

// Last returns the most recently issued id, or 0.
func (g *IDGenerator) Last() int64 {
	return g.last.Load()
}
