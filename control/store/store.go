// Package store keeps small byte-addressed settings across restarts.
//
// Every store buffers writes until Commit, and reads see uncommitted writes.
package store

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned when reading an address that was never written.
	ErrNotFound = errors.New("address never written")
	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("store closed")
)

// buffer holds committed values and pending writes.
type buffer struct {
	mu        sync.Mutex
	committed map[uint8]byte
	pending   map[uint8]byte
	closed    bool
}

func newBuffer(committed map[uint8]byte) *buffer {
	if committed == nil {
		committed = map[uint8]byte{}
	}
	return &buffer{committed: committed, pending: map[uint8]byte{}}
}

func (b *buffer) Read(addr uint8) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	if v, ok := b.pending[addr]; ok {
		return v, nil
	}
	if v, ok := b.committed[addr]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("read address %d: %w", addr, ErrNotFound)
}

func (b *buffer) Write(addr uint8, v byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.pending[addr] = v
	return nil
}

// commit calls persist with the pending writes and, if that works, folds them into the committed
// values.
func (b *buffer) commit(persist func(all, pending map[uint8]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if len(b.pending) == 0 {
		return nil
	}
	all := make(map[uint8]byte, len(b.committed)+len(b.pending))
	for k, v := range b.committed {
		all[k] = v
	}
	for k, v := range b.pending {
		all[k] = v
	}
	if err := persist(all, b.pending); err != nil {
		return err
	}
	b.committed = all
	b.pending = map[uint8]byte{}
	return nil
}

// Memory is a store that forgets everything when the process exits.
type Memory struct {
	*buffer
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{buffer: newBuffer(nil)}
}

// Commit implements options.Store.
func (m *Memory) Commit() error {
	return m.commit(func(_, _ map[uint8]byte) error { return nil })
}
