// Package config loads the gammahook configuration file.
//
// The file is TOML:
//
//	[target]
//	pid = 0
//	name = "flux"
//	path = ""
//	thumbprint = "36E504701938FEA480DB816490D6EAE042EB7907"
//
//	[destination]
//	host = "127.0.0.1"
//	port = 3000
//
//	[companion]
//	dir = "hook"
//
//	[state]
//	file = "gammahook-state.toml"
//
//	[log]
//	file = ""
//	max_size_mb = 10
//	verbose = false
//
// Relative paths are relative to the directory holding the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"gitlab.com/stephen-fox/gammahook/hook"
	"gitlab.com/stephen-fox/gammahook/logging"
	"gitlab.com/stephen-fox/gammahook/selector"
)

const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 3000
	DefaultCompanionDir = "hook"
	DefaultStateFile    = "gammahook-state.toml"
)

type Target struct {
	PID        uint32 `toml:"pid"`
	Name       string `toml:"name"`
	Path       string `toml:"path"`
	Thumbprint string `toml:"thumbprint"`
}

type Destination struct {
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
}

type Companion struct {
	Dir string `toml:"dir"`
}

type State struct {
	File string `toml:"file"`
}

type Log struct {
	File      string `toml:"file"`
	MaxSizeMB int64  `toml:"max_size_mb"`
	Verbose   bool   `toml:"verbose"`
}

type Config struct {
	Target      Target      `toml:"target"`
	Destination Destination `toml:"destination"`
	Companion   Companion   `toml:"companion"`
	State       State       `toml:"state"`
	Log         Log         `toml:"log"`
}

// Default returns the configuration used when there is no file.
// It selects the genuine f.lux executable.
func Default() Config {
	return Config{
		Target: Target{
			Name:       selector.FluxName,
			Thumbprint: selector.FluxThumbprint,
		},
		Destination: Destination{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Companion: Companion{
			Dir: DefaultCompanionDir,
		},
		State: State{
			File: DefaultStateFile,
		},
		Log: Log{
			MaxSizeMB: logging.DefaultMaxSizeMB,
		},
	}
}

// Load reads the file at path on top of Default. A missing file
// yields the defaults. Keys the file does not set keep their
// default values.
func Load(path string) (Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}

	md, err := toml.DecodeFile(path, &config)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		config = Default()
	case err != nil:
		return Config{}, fmt.Errorf("failed to decode config file %q - %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("unknown keys in config file %q: %v", path, undecoded)
		}
	}

	config.resolvePaths(filepath.Dir(path))

	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("invalid config file %q - %w", path, err)
	}

	return config, nil
}

func (o *Config) resolvePaths(dir string) {
	for _, p := range []*string{&o.Companion.Dir, &o.State.File, &o.Log.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func (o Config) Validate() error {
	if o.Selector().IsEmpty() {
		return errors.New("target must set at least one of pid, name, path or thumbprint")
	}

	err := o.Hook().Validate()
	if err != nil {
		return fmt.Errorf("invalid destination - %w", err)
	}

	if o.Companion.Dir == "" {
		return errors.New("companion directory cannot be empty")
	}

	if o.State.File == "" {
		return errors.New("state file cannot be empty")
	}

	if o.Log.MaxSizeMB < 0 {
		return fmt.Errorf("log max_size_mb cannot be negative - got %d", o.Log.MaxSizeMB)
	}

	return nil
}

func (o Config) Selector() selector.Selector {
	return selector.Selector{
		PID:        o.Target.PID,
		Name:       o.Target.Name,
		Path:       o.Target.Path,
		Thumbprint: o.Target.Thumbprint,
	}
}

func (o Config) Hook() hook.Config {
	return hook.Config{
		Host: o.Destination.Host,
		Port: o.Destination.Port,
	}
}

func (o Config) HookCompanion() hook.Companion {
	return hook.Companion{
		Dir: o.Companion.Dir,
	}
}
