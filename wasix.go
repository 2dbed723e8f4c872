package wasix

// Memory is a guest linear memory shared by the threads of one process.
//
// Load and Store variants are atomic with respect to every other access made
// through the same Memory and require naturally aligned offsets.
type Memory interface {
	Read(offset uint64, length uint64) ([]byte, error)
	Write(offset uint64, data []byte) error
	LoadU32(offset uint64) (uint32, error)
	StoreU32(offset uint64, value uint32) error
	LoadU64(offset uint64) (uint64, error)
	StoreU64(offset uint64, value uint64) error
	Size() uint64
}

// Cloner is implemented by memories that can be duplicated for fork and
// snapshot. The clone shares nothing with the original.
type Cloner interface {
	Clone() (Memory, error)
}

// Offset is the guest pointer width: uint32 for wasm32, uint64 for wasm64.
type Offset interface {
	~uint32 | ~uint64
}

// Ptr is a guest address of width O.
type Ptr[O Offset] struct {
	off O
}

type (
	Ptr32 = Ptr[uint32]
	Ptr64 = Ptr[uint64]
)

// NewPtr returns a pointer to guest address off.
func NewPtr[O Offset](off O) Ptr[O] {
	return Ptr[O]{off: off}
}

// Addr returns the address widened to 64 bits.
func (p Ptr[O]) Addr() uint64 { return uint64(p.off) }

// Raw returns the address in its native width.
func (p Ptr[O]) Raw() O { return p.off }

// IsNull reports whether p is the zero address.
func (p Ptr[O]) IsNull() bool { return p.off == 0 }

// Add returns p advanced by n bytes, wrapping at the width of O.
func (p Ptr[O]) Add(n O) Ptr[O] { return Ptr[O]{off: p.off + n} }

// Load32 atomically loads the u32 at p.
func Load32[O Offset](m Memory, p Ptr[O]) (uint32, error) {
	return m.LoadU32(p.Addr())
}

// Store32 atomically stores v at p.
func Store32[O Offset](m Memory, p Ptr[O], v uint32) error {
	return m.StoreU32(p.Addr(), v)
}

// Load64 atomically loads the u64 at p.
func Load64[O Offset](m Memory, p Ptr[O]) (uint64, error) {
	return m.LoadU64(p.Addr())
}

// Store64 atomically stores v at p.
func Store64[O Offset](m Memory, p Ptr[O], v uint64) error {
	return m.StoreU64(p.Addr(), v)
}
