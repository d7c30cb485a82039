package hook

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"unicode/utf16"
)

func TestConfig_Marshal(t *testing.T) {
	b, err := Config{Host: "127.0.0.1", Port: 3000}.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	if len(b) != ConfigSize {
		t.Fatalf("expected %d bytes - got %d", ConfigSize, len(b))
	}

	units := make([]uint16, MaxHostLen+1)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}

	expected := utf16.Encode([]rune("127.0.0.1"))
	for i, u := range expected {
		if units[i] != u {
			t.Fatalf("unexpected host unit %d: 0x%x", i, units[i])
		}
	}

	for i := len(expected); i < len(units); i++ {
		if units[i] != 0 {
			t.Fatalf("expected host to be null padded - unit %d is 0x%x", i, units[i])
		}
	}

	if port := binary.LittleEndian.Uint16(b[32:]); port != 3000 {
		t.Fatalf("expected port 3000 - got %d", port)
	}
}

func TestConfig_Validate(t *testing.T) {
	err := Config{Host: strings.Repeat("a", MaxHostLen), Port: 1}.Validate()
	if err != nil {
		t.Fatal(err)
	}

	for _, config := range []Config{
		{Host: strings.Repeat("a", MaxHostLen+1), Port: 1},
		{Host: "", Port: 1},
		{Host: "localhost", Port: 0},
		{Host: "local\x00host", Port: 1},
	} {
		err := config.Validate()
		if !errors.Is(err, ErrHookProtocol) {
			t.Fatalf("%+v - expected ErrHookProtocol - got %v", config, err)
		}
	}
}

func TestConfig_Validate_CountsUTF16Units(t *testing.T) {
	// Each of these characters needs a surrogate pair.
	host := strings.Repeat("\U0001F600", 8)

	err := Config{Host: host, Port: 1}.Validate()
	if !errors.Is(err, ErrHookProtocol) {
		t.Fatalf("expected ErrHookProtocol - got %v", err)
	}
}

func TestConfig_Validate_LongHostIsNotTruncated(t *testing.T) {
	err := Config{Host: "gamma.example.internal", Port: 3000}.Validate()
	if !errors.Is(err, ErrHookProtocol) {
		t.Fatalf("expected ErrHookProtocol - got %v", err)
	}

	if !strings.Contains(err.Error(), `not truncated to "gamma.example.i"`) {
		t.Fatalf("error does not mention truncation - got %v", err)
	}
}
