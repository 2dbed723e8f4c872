package memory

import (
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/wasix-runtime/errors"
)

func checkAligned(offset uint64, width uint64) error {
	if offset%width != 0 {
		return errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Value(offset).
			Detail("unaligned %d-byte atomic access at offset %d", width, offset).
			Build()
	}
	return nil
}

// view must be at least 4 bytes and start at an aligned address.
func load32(view []byte) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&view[0])))
}

func store32(view []byte, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&view[0])), v)
}

func load64(view []byte) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&view[0])))
}

func store64(view []byte, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&view[0])), v)
}
