// Package selector finds the process to hook.
//
// A Selector either names a process id or describes the process by
// name, executable path and the thumbprint of the certificate that
// signed the executable. Descriptions must match exactly one running
// process.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	// FluxName and FluxThumbprint describe f.lux as published by
	// its authors.
	FluxName       = "flux"
	FluxThumbprint = "36E504701938FEA480DB816490D6EAE042EB7907"
)

var (
	ErrNoMatch   = errors.New("no process matches")
	ErrAmbiguous = errors.New("more than one process matches")
)

// Candidate is a running process.
type Candidate struct {
	PID  uint32
	Name string
	Path string
}

// Lister lists running processes. Fields that cannot be read, such
// as the path of a process owned by another user, are left empty.
type Lister interface {
	List(ctx context.Context) ([]Candidate, error)
}

// Verifier checks the signature of an executable file.
type Verifier interface {
	// Thumbprint returns the signer certificate thumbprint of the
	// file at path. It fails if the signature is not valid.
	Thumbprint(ctx context.Context, path string) (string, error)
}

// Selector identifies a process. A non-zero PID wins over the other
// fields. Empty fields match anything, but at least one must be set.
type Selector struct {
	PID        uint32
	Name       string
	Path       string
	Thumbprint string
}

func (o Selector) IsEmpty() bool {
	return o.PID == 0 && o.Name == "" && o.Path == "" && o.Thumbprint == ""
}

func (o Selector) String() string {
	if o.PID != 0 {
		return fmt.Sprintf("pid %d", o.PID)
	}

	var parts []string
	if o.Name != "" {
		parts = append(parts, "name "+o.Name)
	}
	if o.Path != "" {
		parts = append(parts, "path "+o.Path)
	}
	if o.Thumbprint != "" {
		parts = append(parts, "thumbprint "+o.Thumbprint)
	}

	return strings.Join(parts, ", ")
}

// Config configures Resolve.
type Config struct {
	// OptLister defaults to a gopsutil based Lister.
	OptLister Lister

	// OptVerifier defaults to PowerShellVerifier.
	OptVerifier Verifier

	OptLogger *log.Logger
}

// Resolve returns the id of the one process that o selects.
func (o Selector) Resolve(ctx context.Context, config Config) (uint32, error) {
	if o.IsEmpty() {
		return 0, errors.New("process selector is empty")
	}

	if o.PID != 0 {
		return o.PID, nil
	}

	lister := config.OptLister
	if lister == nil {
		lister = &GopsutilLister{}
	}

	verifier := config.OptVerifier
	if verifier == nil {
		verifier = &PowerShellVerifier{}
	}

	candidates, err := lister.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processes - %w", err)
	}

	thumbprints := make(map[string]string)

	var matches []Candidate

	for _, c := range candidates {
		if o.Name != "" && !nameMatches(c.Name, o.Name) {
			continue
		}

		if o.Path != "" && !pathMatches(c.Path, o.Path) {
			continue
		}

		if o.Thumbprint != "" {
			if c.Path == "" {
				logf(config.OptLogger, "skipping process %d (%s) - executable path is unavailable", c.PID, c.Name)
				continue
			}

			key := strings.ToLower(filepath.Clean(c.Path))

			thumbprint, checked := thumbprints[key]
			if !checked {
				thumbprint, err = verifier.Thumbprint(ctx, c.Path)
				if err != nil {
					logf(config.OptLogger, "skipping process %d (%s) - %v", c.PID, c.Path, err)
				}
				thumbprints[key] = thumbprint
			}

			if !strings.EqualFold(thumbprint, o.Thumbprint) {
				continue
			}
		}

		matches = append(matches, c)
	}

	switch len(matches) {
	case 0:
		return 0, fmt.Errorf("%w - %s", ErrNoMatch, o)
	case 1:
		logf(config.OptLogger, "selected process %d (%s)", matches[0].PID, matches[0].Path)
		return matches[0].PID, nil
	default:
		pids := make([]string, len(matches))
		for i, m := range matches {
			pids[i] = fmt.Sprintf("%d", m.PID)
		}

		return 0, fmt.Errorf("%w - %s - pids: %s", ErrAmbiguous, o, strings.Join(pids, ", "))
	}
}

func nameMatches(candidate string, want string) bool {
	return strings.EqualFold(trimExe(candidate), trimExe(want))
}

func trimExe(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".exe") {
		return name[:len(name)-len(".exe")]
	}
	return name
}

func pathMatches(candidate string, want string) bool {
	if candidate == "" {
		return false
	}

	return strings.EqualFold(filepath.Clean(candidate), filepath.Clean(want))
}

func logf(logger *log.Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// GopsutilLister lists processes with github.com/shirou/gopsutil.
type GopsutilLister struct{}

func (o *GopsutilLister) List(ctx context.Context) ([]Candidate, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(procs))

	for _, p := range procs {
		if p.Pid <= 0 {
			continue
		}

		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}

		exe, _ := p.ExeWithContext(ctx)

		candidates = append(candidates, Candidate{
			PID:  uint32(p.Pid),
			Name: name,
			Path: exe,
		})
	}

	return candidates, nil
}

// Exists reports whether a process with the given id is running.
func Exists(ctx context.Context, pid uint32) (bool, error) {
	if pid == 0 {
		return false, nil
	}

	return process.PidExistsWithContext(ctx, int32(pid))
}
