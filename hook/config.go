package hook

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"gitlab.com/stephen-fox/gammahook/bstruct"
	"gitlab.com/stephen-fox/gammahook/memory"
)

const (
	// MaxHostLen is the longest host name, in UTF-16 code units,
	// that the companion accepts.
	MaxHostLen = 15

	// ConfigSize is the size of the record passed to HookStart.
	ConfigSize = 34
)

// Config tells the companion where to send colour temperature
// requests.
type Config struct {
	Host string
	Port uint16
}

// configRecord matches the companion's
//
//	struct HookParam {
//	    WCHAR serverName[16];
//	    WORD  serverPort;
//	};
type configRecord struct {
	ServerName [MaxHostLen + 1]uint16
	ServerPort uint16
}

func (o Config) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w - host cannot be empty", ErrHookProtocol)
	}

	if strings.ContainsRune(o.Host, 0) {
		return fmt.Errorf("%w - host cannot contain a null character", ErrHookProtocol)
	}

	units := utf16.Encode([]rune(o.Host))
	if len(units) > MaxHostLen {
		return fmt.Errorf("%w - host %q is %d characters long - the maximum is %d "+
			"(longer hosts are rejected, not truncated to %q)",
			ErrHookProtocol, o.Host, len(units), MaxHostLen, string(utf16.Decode(units[:MaxHostLen])))
	}

	if o.Port == 0 {
		return fmt.Errorf("%w - port cannot be zero", ErrHookProtocol)
	}

	return nil
}

// Marshal encodes the config for the companion. The record has the
// same layout for 32 and 64-bit targets.
func (o Config) Marshal() ([]byte, error) {
	err := o.Validate()
	if err != nil {
		return nil, err
	}

	var record configRecord
	copy(record.ServerName[:], utf16.Encode([]rune(o.Host)))
	record.ServerPort = o.Port

	return bstruct.Marshal(record, memory.PointerMakerForX86_64(), nil)
}

func (o Config) String() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
