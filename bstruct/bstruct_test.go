package bstruct

import (
	"bytes"
	"testing"

	"gitlab.com/stephen-fox/gammahook/memory"
)

type procRecord struct {
	Result   Ptr
	Fn       Ptr
	Module   Ptr
	ProcName []byte
}

func TestMarshal_PointerWidthFollowsTarget(t *testing.T) {
	rec := procRecord{
		Fn:       0x11223344,
		Module:   0x55667788,
		ProcName: []byte("Foo\x00"),
	}

	b, err := Marshal(rec, memory.PointerMakerForX86_32(), nil)
	if err != nil {
		t.Fatal(err)
	}

	exp := []byte{
		0, 0, 0, 0,
		0x44, 0x33, 0x22, 0x11,
		0x88, 0x77, 0x66, 0x55,
		'F', 'o', 'o', 0,
	}
	if !bytes.Equal(b, exp) {
		t.Fatalf("expected 0x%x - got 0x%x", exp, b)
	}

	b, err = Marshal(rec, memory.PointerMakerForX86_64(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(b) != 3*8+4 {
		t.Fatalf("expected %d bytes - got %d", 3*8+4, len(b))
	}
}

func TestMarshal_PointerTooWide(t *testing.T) {
	_, err := Marshal(procRecord{Fn: 0x100000000}, memory.PointerMakerForX86_32(), nil)
	if err == nil {
		t.Fatal("expected an error for a 64 bit address in a 32 bit record")
	}
}

func TestMarshal_Uint16Array(t *testing.T) {
	type wide struct {
		Name [3]uint16
		Port uint16
	}

	b, err := Marshal(wide{Name: [3]uint16{'a', 'b'}, Port: 0x1234}, memory.PointerMakerForX86_64(), nil)
	if err != nil {
		t.Fatal(err)
	}

	exp := []byte{'a', 0, 'b', 0, 0, 0, 0x34, 0x12}
	if !bytes.Equal(b, exp) {
		t.Fatalf("expected 0x%x - got 0x%x", exp, b)
	}
}

func TestMarshal_VariableLengthFieldMustBeLast(t *testing.T) {
	type bad struct {
		Name []byte
		Port uint16
	}

	_, err := Marshal(bad{}, memory.PointerMakerForX86_64(), nil)
	if err == nil {
		t.Fatal("expected an error for a variable length field before the end")
	}
}

func TestOffset(t *testing.T) {
	offset, err := Offset(procRecord{}, "ProcName", memory.PointerMakerForX86_64())
	if err != nil {
		t.Fatal(err)
	}

	if offset != 0x18 {
		t.Fatalf("expected 0x18 - got 0x%x", offset)
	}

	_, err = Offset(procRecord{}, "Nope", memory.PointerMakerForX86_64())
	if err == nil {
		t.Fatal("expected an error for a missing field")
	}
}

func TestMarshalOrExit(t *testing.T) {
	origExitFn := DefaultExitFn
	defer func() {
		DefaultExitFn = origExitFn
	}()

	var exitErr error
	DefaultExitFn = func(err error) {
		exitErr = err
	}

	MarshalOrExit(nil, memory.PointerMakerForX86_64(), nil)
	if exitErr == nil {
		t.Fatal("marshaling nil should call the exit function")
	}
}
