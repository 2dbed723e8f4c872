package memory

import (
	"sync"
	"unsafe"

	wasix "github.com/wippyai/wasix-runtime"
	"github.com/wippyai/wasix-runtime/errors"
)

// PageSize is the wasm page size in bytes.
const PageSize = 65536

// MaxPages32 is the page limit of a wasm32 memory.
const MaxPages32 = 65536

// Linear is a growable host-owned linear memory. The backing store is
// word-aligned so atomic accesses at aligned offsets are valid.
type Linear struct {
	mu       sync.RWMutex
	words    []uint64
	size     uint64
	maxPages uint32
}

var (
	_ wasix.Memory = (*Linear)(nil)
	_ wasix.Cloner = (*Linear)(nil)
)

// NewLinear creates a memory of pages pages. maxPages of 0 means MaxPages32.
func NewLinear(pages, maxPages uint32) *Linear {
	if maxPages == 0 {
		maxPages = MaxPages32
	}
	size := uint64(pages) * PageSize
	return &Linear{
		words:    make([]uint64, size/8),
		size:     size,
		maxPages: maxPages,
	}
}

// FromBytes creates a memory holding a copy of data. The size is rounded up
// to a whole number of 8-byte words but reported as len(data).
func FromBytes(data []byte) *Linear {
	m := &Linear{
		words:    make([]uint64, (len(data)+7)/8),
		size:     uint64(len(data)),
		maxPages: MaxPages32,
	}
	copy(m.buf(), data)
	return m
}

// buf returns the byte view of the backing store. Callers hold mu.
func (m *Linear) buf() []byte {
	if len(m.words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&m.words[0])), len(m.words)*8)[:m.size]
}

func (m *Linear) view(offset, length uint64) ([]byte, error) {
	if offset > m.size || length > m.size-offset {
		return nil, errors.OutOfBounds(errors.PhaseMemory, offset, length, m.size)
	}
	return m.buf()[offset : offset+length], nil
}

// Size returns the memory size in bytes.
func (m *Linear) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Pages returns the memory size in wasm pages, rounded up.
func (m *Linear) Pages() uint32 {
	return uint32((m.Size() + PageSize - 1) / PageSize)
}

// Grow adds delta pages and returns the previous page count. It fails with
// KindResourceExhausted beyond the page limit.
func (m *Linear) Grow(delta uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := uint32((m.size + PageSize - 1) / PageSize)
	if uint64(prev)+uint64(delta) > uint64(m.maxPages) {
		return prev, errors.ResourceExhausted(errors.PhaseMemory, "memory page limit reached")
	}
	if delta == 0 {
		return prev, nil
	}

	size := uint64(prev+delta) * PageSize
	words := make([]uint64, size/8)
	copy(words, m.words)
	m.words = words
	m.size = size
	return prev, nil
}

// Read returns a copy of length bytes at offset.
func (m *Linear) Read(offset uint64, length uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, err := m.view(offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Write copies data to offset.
func (m *Linear) Write(offset uint64, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, err := m.view(offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(v, data)
	return nil
}

// LoadU32 atomically loads a u32.
func (m *Linear) LoadU32(offset uint64) (uint32, error) {
	if err := checkAligned(offset, 4); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, err := m.view(offset, 4)
	if err != nil {
		return 0, err
	}
	return load32(v), nil
}

// StoreU32 atomically stores a u32.
func (m *Linear) StoreU32(offset uint64, value uint32) error {
	if err := checkAligned(offset, 4); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, err := m.view(offset, 4)
	if err != nil {
		return err
	}
	store32(v, value)
	return nil
}

// LoadU64 atomically loads a u64.
func (m *Linear) LoadU64(offset uint64) (uint64, error) {
	if err := checkAligned(offset, 8); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, err := m.view(offset, 8)
	if err != nil {
		return 0, err
	}
	return load64(v), nil
}

// StoreU64 atomically stores a u64.
func (m *Linear) StoreU64(offset uint64, value uint64) error {
	if err := checkAligned(offset, 8); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, err := m.view(offset, 8)
	if err != nil {
		return err
	}
	store64(v, value)
	return nil
}

// Bytes returns a copy of the whole memory. Stores wait until the copy is
// done so the result is a consistent image.
func (m *Linear) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.size)
	copy(out, m.buf())
	return out
}

// Clone returns an independent copy, taken with every access excluded.
func (m *Linear) Clone() (wasix.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &Linear{
		words:    make([]uint64, len(m.words)),
		size:     m.size,
		maxPages: m.maxPages,
	}
	copy(c.words, m.words)
	return c, nil
}
