package memory

import (
	"math"

	"github.com/tetratelabs/wazero/api"
	wasix "github.com/wippyai/wasix-runtime"
	"github.com/wippyai/wasix-runtime/errors"
)

// Wrap wraps a wazero api.Memory. It returns nil for a nil memory.
func Wrap(mem api.Memory) *Wrapper {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// Wrapper adapts wazero api.Memory to wasix.Memory.
type Wrapper struct {
	Mem api.Memory
}

var (
	_ wasix.Memory = (*Wrapper)(nil)
	_ wasix.Cloner = (*Wrapper)(nil)
)

// view returns the live slice backing [offset, offset+length).
func (m *Wrapper) view(offset, length uint64) ([]byte, error) {
	if offset > math.MaxUint32 || length > math.MaxUint32 {
		return nil, errors.OutOfBounds(errors.PhaseMemory, offset, length, m.Size())
	}
	data, ok := m.Mem.Read(uint32(offset), uint32(length))
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseMemory, offset, length, m.Size())
	}
	return data, nil
}

// Size returns the memory size in bytes.
func (m *Wrapper) Size() uint64 {
	return uint64(m.Mem.Size())
}

// Read returns the live view of length bytes at offset. The view is
// invalidated by memory growth.
func (m *Wrapper) Read(offset uint64, length uint64) ([]byte, error) {
	return m.view(offset, length)
}

// Write writes bytes to memory.
func (m *Wrapper) Write(offset uint64, data []byte) error {
	if offset > math.MaxUint32 || !m.Mem.Write(uint32(offset), data) {
		return errors.OutOfBounds(errors.PhaseMemory, offset, uint64(len(data)), m.Size())
	}
	return nil
}

// LoadU32 atomically loads a u32.
func (m *Wrapper) LoadU32(offset uint64) (uint32, error) {
	if err := checkAligned(offset, 4); err != nil {
		return 0, err
	}
	v, err := m.view(offset, 4)
	if err != nil {
		return 0, err
	}
	return load32(v), nil
}

// StoreU32 atomically stores a u32.
func (m *Wrapper) StoreU32(offset uint64, value uint32) error {
	if err := checkAligned(offset, 4); err != nil {
		return err
	}
	v, err := m.view(offset, 4)
	if err != nil {
		return err
	}
	store32(v, value)
	return nil
}

// LoadU64 atomically loads a u64.
func (m *Wrapper) LoadU64(offset uint64) (uint64, error) {
	if err := checkAligned(offset, 8); err != nil {
		return 0, err
	}
	v, err := m.view(offset, 8)
	if err != nil {
		return 0, err
	}
	return load64(v), nil
}

// StoreU64 atomically stores a u64.
func (m *Wrapper) StoreU64(offset uint64, value uint64) error {
	if err := checkAligned(offset, 8); err != nil {
		return err
	}
	v, err := m.view(offset, 8)
	if err != nil {
		return err
	}
	store64(v, value)
	return nil
}

// Clone copies the instance memory into a Linear.
func (m *Wrapper) Clone() (wasix.Memory, error) {
	data, err := m.view(0, m.Size())
	if err != nil {
		return nil, err
	}
	return FromBytes(data), nil
}

// CopyInto grows dst to hold src and copies src's contents to offset 0.
func CopyInto(dst api.Memory, src wasix.Memory) error {
	size := src.Size()
	if size == 0 {
		return nil
	}
	if cur := uint64(dst.Size()); cur < size {
		delta := (size - cur + PageSize - 1) / PageSize
		if _, ok := dst.Grow(uint32(delta)); !ok {
			return errors.ResourceExhausted(errors.PhaseMemory, "cannot grow instance memory for image")
		}
	}
	data, err := src.Read(0, size)
	if err != nil {
		return err
	}
	if !dst.Write(0, data) {
		return errors.OutOfBounds(errors.PhaseMemory, 0, size, uint64(dst.Size()))
	}
	return nil
}
