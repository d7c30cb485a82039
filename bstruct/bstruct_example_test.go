package bstruct_test

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"gitlab.com/stephen-fox/gammahook/bstruct"
	"gitlab.com/stephen-fox/gammahook/memory"
)

func ExampleMarshal() {
	type example struct {
		Counter  uint16
		SomePtr  bstruct.Ptr
		Register uint32
	}

	b, err := bstruct.Marshal(example{
		Counter:  666,
		SomePtr:  0xc0ded00d,
		Register: 0xfabfabdd,
	}, memory.PointerMakerForX86_32(), nil)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Printf("0x%x", b)

	// Output:
	// 0x9a020dd0dec0ddabbffa
}

func ExampleMarshal_with_logging() {
	type example struct {
		Counter uint16
		SomePtr bstruct.Ptr
	}

	logger := log.New(os.Stdout, "", 0)

	_, err := bstruct.Marshal(example{
		Counter: 666,
		SomePtr: 0xc0ded00d,
	}, memory.PointerMakerForX86_64(), func(info bstruct.FieldInfo) error {
		logger.Printf("field: %d | name: %q | type: %s | offset: %d | value:\n%s",
			info.Index, info.Name, info.Type, info.Offset, hex.Dump(info.Value))
		return nil
	})
	if err != nil {
		log.Fatalln(err)
	}

	// Output:
	// field: 0 | name: "Counter" | type: uint16 | offset: 0 | value:
	// 00000000  9a 02                                             |..|
	// field: 1 | name: "SomePtr" | type: bstruct.Ptr | offset: 2 | value:
	// 00000000  0d d0 de c0 00 00 00 00                           |........|
}
