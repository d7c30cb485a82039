package memory

import (
	"encoding/binary"
	"fmt"
)

// PointerMakerForX86_32 returns a PointerMaker for 32-bit x86 targets.
func PointerMakerForX86_32() PointerMaker {
	return PointerMaker{
		byteOrder: binary.LittleEndian,
		bits:      32,
		ptrSize:   4,
	}
}

// PointerMakerForX86_64 returns a PointerMaker for 64-bit x86 targets.
func PointerMakerForX86_64() PointerMaker {
	return PointerMaker{
		byteOrder: binary.LittleEndian,
		bits:      64,
		ptrSize:   8,
	}
}

func PointerMakerForBitsOrExit(bits int) PointerMaker {
	pm, err := PointerMakerForBits(bits)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to create pointer maker - %w", err))
	}
	return pm
}

// PointerMakerForBits returns the x86 PointerMaker for a process
// of the specified bitness.
func PointerMakerForBits(bits int) (PointerMaker, error) {
	switch bits {
	case 32:
		return PointerMakerForX86_32(), nil
	case 64:
		return PointerMakerForX86_64(), nil
	default:
		return PointerMaker{}, fmt.Errorf("unsupported bits: %d", bits)
	}
}

// PointerMaker encodes and decodes pointers for a specific platform.
type PointerMaker struct {
	byteOrder binary.ByteOrder
	bits      int
	ptrSize   int
}

// Bits returns the pointer width in bits.
func (o PointerMaker) Bits() int {
	return o.bits
}

// Size returns the pointer width in bytes.
func (o PointerMaker) Size() int {
	return o.ptrSize
}

// ByteOrder returns the target's byte order.
func (o PointerMaker) ByteOrder() binary.ByteOrder {
	return o.byteOrder
}

// FromUint encodes address. Addresses wider than the pointer are
// truncated, so callers must check Fits first when that matters.
func (o PointerMaker) FromUint(address uint64) Pointer {
	out := make([]byte, o.ptrSize)
	switch o.bits {
	case 32:
		o.byteOrder.PutUint32(out, uint32(address))
	case 64:
		o.byteOrder.PutUint64(out, address)
	default:
		panic(fmt.Sprintf("unsupported bits: %d", o.bits))
	}
	return out
}

// Fits reports whether address can be represented without truncation.
func (o PointerMaker) Fits(address uint64) bool {
	if o.bits >= 64 {
		return true
	}
	return address>>uint(o.bits) == 0
}

// Decode reads a pointer from the start of p.
func (o PointerMaker) Decode(p []byte) (uint64, error) {
	if len(p) < o.ptrSize {
		return 0, fmt.Errorf("need %d bytes to decode a pointer - got %d",
			o.ptrSize, len(p))
	}

	switch o.bits {
	case 32:
		return uint64(o.byteOrder.Uint32(p)), nil
	case 64:
		return o.byteOrder.Uint64(p), nil
	default:
		return 0, fmt.Errorf("unsupported bits: %d", o.bits)
	}
}

// Pointer is an encoded memory address.
type Pointer []byte

func (o Pointer) Bytes() []byte {
	return o
}

func (o Pointer) HexString() string {
	return fmt.Sprintf("0x%x", []byte(o))
}
