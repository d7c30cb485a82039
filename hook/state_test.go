package hook

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")

	state := State{
		PID:         1234,
		Bits:        64,
		Companion:   `C:\gammahook\hook\hook64.dll`,
		Host:        "127.0.0.1",
		Port:        3000,
		Address:     "0x7ffa00010100",
		Original:    "48895c24085748",
		Replacement: "48b80010000050",
	}

	err := SaveState(path, state)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}

	record, err := loaded.Record()
	if err != nil {
		t.Fatal(err)
	}

	if record.Address != 0x7ffa00010100 {
		t.Fatalf("unexpected address 0x%x", record.Address)
	}

	if !bytes.Equal(record.Original, []byte{0x48, 0x89, 0x5c, 0x24, 0x08, 0x57, 0x48}) {
		t.Fatalf("unexpected original bytes 0x%x", record.Original)
	}

	if loaded.Companion != state.Companion {
		t.Fatalf("expected companion %q - got %q", state.Companion, loaded.Companion)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected only the state file - got %d entries", len(entries))
	}
}

func TestLoadState_Invalid(t *testing.T) {
	dir := t.TempDir()

	for name, contents := range map[string]string{
		"unknown-key": `pid = 1
bits = 64
companion = "hook64.dll"
address = "0x1000"
original = "90"
replacement = "c3"
colour = "blue"
`,
		"bad-hex": `pid = 1
bits = 64
companion = "hook64.dll"
address = "0x1000"
original = "zz"
replacement = "c3"
`,
		"length-mismatch": `pid = 1
bits = 64
companion = "hook64.dll"
address = "0x1000"
original = "9090"
replacement = "c3"
`,
		"bad-bits": `pid = 1
bits = 16
companion = "hook64.dll"
address = "0x1000"
original = "90"
replacement = "c3"
`,
	} {
		path := filepath.Join(dir, name+".toml")

		err := os.WriteFile(path, []byte(contents), 0o600)
		if err != nil {
			t.Fatal(err)
		}

		_, err = LoadState(path)
		if !errors.Is(err, ErrState) {
			t.Fatalf("%s - expected ErrState - got %v", name, err)
		}
	}
}

func TestLoadState_Missing(t *testing.T) {
	_, err := LoadState(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist - got %v", err)
	}
}
