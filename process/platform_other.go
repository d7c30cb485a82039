//go:build !windows

package process

// DefaultPlatform returns ErrUnsupportedPlatform on this
// operating system.
func DefaultPlatform() (Platform, error) {
	return nil, ErrUnsupportedPlatform
}
