package patch_test

import (
	"fmt"
	"log"

	"gitlab.com/stephen-fox/gammahook/patch"
)

func ExampleJumpTo() {
	jump, err := patch.JumpTo(64, 0x7ffa00001000)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Printf("% x\n", jump)

	// Output:
	// 48 b8 00 10 00 00 fa 7f 00 00 ff e0
}
