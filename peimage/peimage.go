// Package peimage inspects Portable Executable files on disk.
package peimage

import (
	"fmt"
	"sort"

	"github.com/Binject/debug/pe"
)

// Info describes a PE image.
type Info struct {
	// Bits is 32 for i386 images and 64 for amd64 images.
	Bits int

	// Exports lists the image's exported symbol names in
	// ascending order.
	Exports []string
}

// HasExport reports whether the image exports name.
func (o Info) HasExport(name string) bool {
	i := sort.SearchStrings(o.Exports, name)
	return i < len(o.Exports) && o.Exports[i] == name
}

// Inspect reads the machine type and export names of the image at path.
func Inspect(path string) (Info, error) {
	f, err := pe.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open pe file %q - %w", path, err)
	}
	defer f.Close()

	bits, err := MachineBits(f.FileHeader.Machine)
	if err != nil {
		return Info{}, fmt.Errorf("%q - %w", path, err)
	}

	exports, err := f.Exports()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read exports of %q - %w", path, err)
	}

	info := Info{
		Bits: bits,
	}

	for _, export := range exports {
		if export.Name == "" {
			continue
		}
		info.Exports = append(info.Exports, export.Name)
	}

	sort.Strings(info.Exports)

	return info, nil
}

// MachineBits maps a COFF machine type to a pointer width.
func MachineBits(machine uint16) (int, error) {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return 32, nil
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return 64, nil
	default:
		return 0, fmt.Errorf("unsupported machine type 0x%x", machine)
	}
}
