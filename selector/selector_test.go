package selector

import (
	"context"
	"errors"
	"os"
	"testing"
)

type fakeLister []Candidate

func (o fakeLister) List(context.Context) ([]Candidate, error) {
	return o, nil
}

type fakeVerifier struct {
	thumbprints map[string]string
	calls       int
}

func (o *fakeVerifier) Thumbprint(_ context.Context, path string) (string, error) {
	o.calls++

	t, ok := o.thumbprints[path]
	if !ok {
		return "", errors.New("not signed")
	}

	return t, nil
}

var candidates = fakeLister{
	{PID: 10, Name: "flux.exe", Path: `C:\Users\a\AppData\Local\FluxSoftware\Flux\flux.exe`},
	{PID: 11, Name: "flux.exe", Path: `C:\Temp\flux.exe`},
	{PID: 12, Name: "explorer.exe", Path: `C:\Windows\explorer.exe`},
	{PID: 13, Name: "flux.exe", Path: `C:\Users\a\AppData\Local\FluxSoftware\Flux\flux.exe`},
	{PID: 14, Name: "svchost.exe"},
}

func TestResolve_PIDWins(t *testing.T) {
	pid, err := Selector{PID: 99, Name: "nope"}.Resolve(context.Background(), Config{
		OptLister: fakeLister{},
	})
	if err != nil {
		t.Fatal(err)
	}

	if pid != 99 {
		t.Fatalf("expected 99 - got %d", pid)
	}
}

func TestResolve_Name(t *testing.T) {
	pid, err := Selector{Name: "EXPLORER"}.Resolve(context.Background(), Config{
		OptLister: candidates,
	})
	if err != nil {
		t.Fatal(err)
	}

	if pid != 12 {
		t.Fatalf("expected 12 - got %d", pid)
	}
}

func TestResolve_Ambiguous(t *testing.T) {
	_, err := Selector{Name: "flux"}.Resolve(context.Background(), Config{
		OptLister: candidates,
	})
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous - got %v", err)
	}
}

func TestResolve_Thumbprint(t *testing.T) {
	verifier := &fakeVerifier{
		thumbprints: map[string]string{
			`C:\Users\a\AppData\Local\FluxSoftware\Flux\flux.exe`: FluxThumbprint,
			`C:\Temp\flux.exe`: "0000000000000000000000000000000000000000",
		},
	}

	pid, err := Selector{
		Name:       FluxName,
		Path:       `C:\Temp\flux.exe`,
		Thumbprint: "0000000000000000000000000000000000000000",
	}.Resolve(context.Background(), Config{
		OptLister:   candidates,
		OptVerifier: verifier,
	})
	if err != nil {
		t.Fatal(err)
	}

	if pid != 11 {
		t.Fatalf("expected 11 - got %d", pid)
	}

	// Two processes run the genuine executable.
	_, err = Selector{
		Name:       FluxName,
		Thumbprint: FluxThumbprint,
	}.Resolve(context.Background(), Config{
		OptLister:   candidates,
		OptVerifier: verifier,
	})
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous - got %v", err)
	}
}

func TestResolve_ThumbprintCheckedOncePerPath(t *testing.T) {
	verifier := &fakeVerifier{
		thumbprints: map[string]string{
			`C:\Users\a\AppData\Local\FluxSoftware\Flux\flux.exe`: FluxThumbprint,
		},
	}

	_, _ = Selector{Thumbprint: FluxThumbprint}.Resolve(context.Background(), Config{
		OptLister:   candidates,
		OptVerifier: verifier,
	})

	// Three distinct paths. svchost has no path and is skipped.
	if verifier.calls != 3 {
		t.Fatalf("expected 3 verifications - got %d", verifier.calls)
	}
}

func TestResolve_NoMatch(t *testing.T) {
	_, err := Selector{
		Name:       FluxName,
		Thumbprint: "1111111111111111111111111111111111111111",
	}.Resolve(context.Background(), Config{
		OptLister:   candidates,
		OptVerifier: &fakeVerifier{},
	})
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch - got %v", err)
	}
}

func TestResolve_Empty(t *testing.T) {
	_, err := Selector{}.Resolve(context.Background(), Config{OptLister: candidates})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestExists(t *testing.T) {
	ctx := context.Background()

	exists, err := Exists(ctx, uint32(os.Getpid()))
	if err != nil {
		t.Fatal(err)
	}

	if !exists {
		t.Fatal("current process does not exist")
	}

	exists, err = Exists(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	if exists {
		t.Fatal("pid 0 should not exist")
	}
}
