package hook

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"gitlab.com/stephen-fox/gammahook/patch"
)

// State is everything needed to uninstall a hook from another
// invocation of the program.
type State struct {
	PID         uint32    `toml:"pid"`
	Bits        int       `toml:"bits"`
	Companion   string    `toml:"companion"`
	Host        string    `toml:"host"`
	Port        uint16    `toml:"port"`
	Address     string    `toml:"address"`
	Original    string    `toml:"original"`
	Replacement string    `toml:"replacement"`
	InstalledAt time.Time `toml:"installed_at"`
}

func newState(pid uint32, bits int, companion string, config Config, record patch.Record) State {
	return State{
		PID:         pid,
		Bits:        bits,
		Companion:   companion,
		Host:        config.Host,
		Port:        config.Port,
		Address:     fmt.Sprintf("0x%x", record.Address),
		Original:    hex.EncodeToString(record.Original),
		Replacement: hex.EncodeToString(record.Replacement),
		InstalledAt: time.Now().UTC().Truncate(time.Second),
	}
}

// Record decodes the patch record.
func (o State) Record() (patch.Record, error) {
	address, err := strconv.ParseUint(o.Address, 0, 64)
	if err != nil {
		return patch.Record{}, fmt.Errorf("%w - failed to parse address %q - %w", ErrState, o.Address, err)
	}

	original, err := hex.DecodeString(o.Original)
	if err != nil {
		return patch.Record{}, fmt.Errorf("%w - failed to decode original bytes - %w", ErrState, err)
	}

	replacement, err := hex.DecodeString(o.Replacement)
	if err != nil {
		return patch.Record{}, fmt.Errorf("%w - failed to decode replacement bytes - %w", ErrState, err)
	}

	if len(original) == 0 || len(original) != len(replacement) {
		return patch.Record{}, fmt.Errorf("%w - original and replacement must be the same non-zero length",
			ErrState)
	}

	return patch.Record{
		Address:     uintptr(address),
		Original:    original,
		Replacement: replacement,
	}, nil
}

func (o State) Validate() error {
	if o.PID == 0 {
		return fmt.Errorf("%w - pid cannot be zero", ErrState)
	}

	if o.Bits != 32 && o.Bits != 64 {
		return fmt.Errorf("%w - unsupported bits: %d", ErrState, o.Bits)
	}

	if o.Companion == "" {
		return fmt.Errorf("%w - companion path cannot be empty", ErrState)
	}

	_, err := o.Record()
	return err
}

// SaveState writes state to path, replacing any existing file.
func SaveState(path string, state State) error {
	buf := bytes.NewBuffer(nil)

	err := toml.NewEncoder(buf).Encode(state)
	if err != nil {
		return fmt.Errorf("failed to encode hook state - %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create hook state file - %w", err)
	}

	_, err = tmp.Write(buf.Bytes())
	_ = tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write hook state file - %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename hook state file - %w", err)
	}

	return nil
}

// LoadState reads a state file written by SaveState.
func LoadState(path string) (State, error) {
	var state State

	md, err := toml.DecodeFile(path, &state)
	if err != nil {
		return State{}, fmt.Errorf("failed to decode hook state file %q - %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return State{}, fmt.Errorf("%w - unknown keys in %q: %v", ErrState, path, undecoded)
	}

	err = state.Validate()
	if err != nil {
		return State{}, fmt.Errorf("invalid hook state file %q - %w", path, err)
	}

	return state, nil
}
