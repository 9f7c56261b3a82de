package comms

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
)

// ID is the process-unique identity of a Record.
type ID uint64

// idGenerator hands out record identities. The counter starts from a
// random value and increments atomically.
type idGenerator struct {
	id atomic.Uint64
}

func newIDGenerator() *idGenerator {
	inst := &idGenerator{}
	var buf [8]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return inst
	}
	inst.id.Store(binary.LittleEndian.Uint64(buf[:]) >> 1)

	return inst
}

func (g *idGenerator) next() ID {
	return ID(g.id.Add(1))
}

var (
	genInst *idGenerator
	genOnce sync.Once
)

// nextID returns a new record identity. It never returns the same value twice
// within a process.
func nextID() ID {
	genOnce.Do(func() {
		genInst = newIDGenerator()
	})

	return genInst.next()
}
