package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFile_Mirror(t *testing.T) {
	mirror := bytes.NewBuffer(nil)

	f, err := New(Config{
		File:      filepath.Join(t.TempDir(), "logs", "gammahook.log"),
		OptMirror: mirror,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	_, err = f.Write([]byte("hello\n"))
	if err != nil {
		t.Fatal(err)
	}

	if mirror.String() != "hello\n" {
		t.Fatalf("unexpected mirror contents: %q", mirror.String())
	}

	contents, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatal(err)
	}

	if string(contents) != "hello\n" {
		t.Fatalf("unexpected file contents: %q", contents)
	}
}

func TestFile_Rotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gammahook.log")

	f, err := New(Config{
		File:      path,
		MaxSizeMB: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	line := []byte(strings.Repeat("a", 1023) + "\n")

	for i := 0; i < 1025; i++ {
		_, err = f.Write(line)
		if err != nil {
			t.Fatal(err)
		}
	}

	rotated, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatal(err)
	}

	if len(rotated) != 1 {
		t.Fatalf("expected one rotated file - got %v", rotated)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	if info.Size() != int64(len(line)) {
		t.Fatalf("expected current file to hold one line - got %d bytes", info.Size())
	}
}

func TestFile_KeepsNewestRotated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gammahook.log")

	for _, suffix := range []string{
		"20240101-000000.000",
		"20240102-000000.000",
		"20240103-000000.000",
		"20240104-000000.000",
		"20240105-000000.000",
		"20240106-000000.000",
	} {
		err := os.WriteFile(path+"."+suffix, nil, 0o600)
		if err != nil {
			t.Fatal(err)
		}
	}

	f := &File{path: path}
	f.removeOldRotated()

	if _, err := os.Stat(path + ".20240101-000000.000"); !os.IsNotExist(err) {
		t.Fatal("oldest rotated file was not removed")
	}

	remaining, _ := filepath.Glob(path + ".*")
	if len(remaining) != KeepRotated {
		t.Fatalf("expected %d rotated files - got %d", KeepRotated, len(remaining))
	}
}

func TestNew_EmptyPath(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected an error")
	}
}
