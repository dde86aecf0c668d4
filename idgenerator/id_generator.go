// Package idgenerator hands out connection identities.
package idgenerator

import "sync/atomic"

// IdGenerator produces increasing uint32 ids starting after a given value.
// Zero is never returned, so it can mean "no id" (client connections carry
// id 0). After wrapping around, counting resumes at 1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator returns a generator whose first id is startValue+1.
//
// Parameters:
//   - startValue: The value preceding the first id
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id. It is safe for concurrent use.
func (g *IdGenerator) Id() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}
