// Package bstruct converts Go structs into fixed-layout binary records
// for consumption by code running in another process.
//
// Fields are encoded in declaration order with no padding. Records
// shared with C code must therefore be declared so that natural
// alignment does not require any.
package bstruct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"reflect"

	"gitlab.com/stephen-fox/gammahook/memory"
)

var (
	// DefaultExitFn is invoked by functions ending in the "OrExit"
	// suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)

// Byter is implemented by field types that encode themselves.
type Byter interface {
	ToBytes(binary.ByteOrder) []byte
}

// Ptr is an address in the target's address space. It is encoded
// with the target's pointer width.
type Ptr uint64

// FieldInfo describes one encoded field.
type FieldInfo struct {
	Index  int
	Name   string
	Type   string
	Offset int
	Value  []byte
}

func MarshalOrExit(s interface{}, pm memory.PointerMaker, optFn func(FieldInfo) error) []byte {
	b, err := Marshal(s, pm, optFn)
	if err != nil {
		DefaultExitFn(err)
	}

	return b
}

// Marshal encodes struct s for a target described by pm. The optional
// optFn is called after each field is encoded; returning an error from
// it stops the conversion.
func Marshal(s interface{}, pm memory.PointerMaker, optFn func(FieldInfo) error) ([]byte, error) {
	if s == nil {
		return nil, errors.New("struct is nil")
	}

	structValue := reflect.ValueOf(s)
	if structValue.Kind() == reflect.Ptr {
		structValue = structValue.Elem()
	}

	if structValue.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected a struct - got %s", structValue.Kind())
	}

	bo := pm.ByteOrder()
	if bo == nil {
		return nil, errors.New("pointer maker has no byte order")
	}

	numFields := structValue.NumField()
	structType := structValue.Type()

	var b []byte

	for i := 0; i < numFields; i++ {
		field := structType.Field(i)
		fieldValue := structValue.Field(i)

		at := len(b)

		switch t := fieldValue.Interface().(type) {
		case Byter:
			b = append(b, t.ToBytes(bo)...)
		case Ptr:
			if !pm.Fits(uint64(t)) {
				return nil, fmt.Errorf("field %q value 0x%x does not fit in a %d bit pointer",
					field.Name, uint64(t), pm.Bits())
			}
			b = append(b, pm.FromUint(uint64(t))...)
		case uint8:
			b = append(b, t)
		case uint16:
			b = append(b, make([]byte, 2)...)
			bo.PutUint16(b[len(b)-2:], t)
		case uint32:
			b = append(b, make([]byte, 4)...)
			bo.PutUint32(b[len(b)-4:], t)
		case uint64:
			b = append(b, make([]byte, 8)...)
			bo.PutUint64(b[len(b)-8:], t)
		case []byte:
			if i != numFields-1 {
				return nil, fmt.Errorf("variable length field %q (index %d) must be the last field",
					field.Name, i)
			}
			b = append(b, t...)
		default:
			encoded, err := encodeArray(fieldValue, bo)
			if err != nil {
				return nil, fmt.Errorf("unsupported data type %T for field %q (index %d) - %w",
					t, field.Name, i, err)
			}
			b = append(b, encoded...)
		}

		if optFn != nil {
			err := optFn(FieldInfo{
				Index:  i,
				Name:   field.Name,
				Type:   field.Type.String(),
				Offset: at,
				Value:  b[at:],
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}

func encodeArray(v reflect.Value, bo binary.ByteOrder) ([]byte, error) {
	if v.Kind() != reflect.Array {
		return nil, errors.New("not an array")
	}

	switch v.Type().Elem().Kind() {
	case reflect.Uint8:
		out := make([]byte, v.Len())
		for i := range out {
			out[i] = byte(v.Index(i).Uint())
		}
		return out, nil
	case reflect.Uint16:
		out := make([]byte, v.Len()*2)
		for i := 0; i < v.Len(); i++ {
			bo.PutUint16(out[i*2:], uint16(v.Index(i).Uint()))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported array element type %s", v.Type().Elem())
	}
}

// Offset returns the byte offset of the named field in the record
// Marshal produces for s.
func Offset(s interface{}, fieldName string, pm memory.PointerMaker) (int, error) {
	offset := -1

	_, err := Marshal(s, pm, func(info FieldInfo) error {
		if info.Name == fieldName {
			offset = info.Offset
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if offset < 0 {
		return 0, fmt.Errorf("struct has no field named %q", fieldName)
	}

	return offset, nil
}
