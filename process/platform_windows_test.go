//go:build windows

package process

import (
	"os"
	"strings"
	"testing"
)

func TestWindowsPlatform_Modules(t *testing.T) {
	platform := &WindowsPlatform{}

	modules, err := platform.Modules(uint32(os.Getpid()))
	if err != nil {
		t.Fatal(err)
	}

	kernel32Addr, err := platform.LocalProcAddress("kernel32.dll", "GetProcAddress")
	if err != nil {
		t.Fatal(err)
	}

	for _, m := range modules {
		if !strings.EqualFold(m.Name, "kernel32.dll") {
			continue
		}

		if m.Handle == 0 || m.Base == 0 || m.Size == 0 {
			t.Fatalf("kernel32.dll entry is incomplete: %+v", m)
		}

		if !strings.HasSuffix(strings.ToLower(m.Path), `\kernel32.dll`) {
			t.Fatalf("unexpected kernel32.dll path %q", m.Path)
		}

		if kernel32Addr < m.Base || kernel32Addr >= m.Base+uintptr(m.Size) {
			t.Fatalf("GetProcAddress at 0x%x is outside kernel32.dll (0x%x, %d bytes)",
				kernel32Addr, m.Base, m.Size)
		}

		return
	}

	t.Fatalf("kernel32.dll is not in the module snapshot of %d modules", len(modules))
}
