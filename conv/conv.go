// Package conv parses byte sequences written by hand, such as an
// expected function prologue given on the command line.
package conv

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HexArrayToBytes converts hex-encoded bytes into a []byte. The
// bytes may be separated by anything that is not a hex character and
// may carry a "0x" or "\x" prefix. C comments are ignored, which
// allows pasting disassembly listings:
//
//	0x48, 0x89, 0x5c, 0x24, 0x08, // mov [rsp+8], rbx
//	57                            /* push rdi */
func HexArrayToBytes(source io.Reader) ([]byte, error) {
	reader := NewHexArrayReader(source)
	buf := bytes.NewBuffer(nil)

	_, err := io.Copy(buf, reader)
	switch {
	case errors.Is(err, io.EOF):
		// OK.
	case err == nil:
		// OK.
	default:
		return nil, err
	}

	return buf.Bytes(), nil
}

// HexStringToBytes is HexArrayToBytes for a string.
func HexStringToBytes(s string) ([]byte, error) {
	return HexArrayToBytes(strings.NewReader(s))
}

// NewHexArrayReader returns an io.Reader that hex-decodes the byte
// sequence read from r. It fails if a byte has only one hex digit.
func NewHexArrayReader(r io.Reader) io.Reader {
	return &hexArrayReader{
		bufferedSrc: bufio.NewReader(r),
	}
}

type hexArrayReader struct {
	bufferedSrc *bufio.Reader
	pending     []byte
}

func (o *hexArrayReader) Read(p []byte) (int, error) {
	avail := len(p)

	bytesWritten := 0

outer:
	for bytesWritten < avail {
		b, err := o.bufferedSrc.ReadByte()
		switch {
		case errors.Is(err, io.EOF):
			if len(o.pending) > 0 {
				return bytesWritten, fmt.Errorf("trailing hex digit %q has no pair", o.pending)
			}
			if bytesWritten == 0 {
				return 0, io.EOF
			}
			break outer
		case err == nil:
			// Keep going.
		default:
			return bytesWritten, fmt.Errorf("failed to read next byte from reader - %w", err)
		}

		if b == '/' {
			err := findComment(o.bufferedSrc)
			if err != nil {
				return bytesWritten, err
			}

			continue
		}

		if b == 'x' || b == 'X' {
			// The "0" of a "0x" prefix.
			if len(o.pending) == 1 && o.pending[0] == '0' {
				o.pending = o.pending[:0]
				continue
			}
		}

		if !isHexChar(b) {
			if len(o.pending) > 0 {
				return bytesWritten, fmt.Errorf("hex digit %q has no pair", o.pending)
			}
			continue
		}

		o.pending = append(o.pending, b)

		if len(o.pending) == 2 {
			_, err := hex.Decode(p[bytesWritten:], o.pending)
			if err != nil {
				return bytesWritten, fmt.Errorf("failed to hex-decode byte - %w", err)
			}

			bytesWritten++

			o.pending = o.pending[:0]
		}
	}

	return bytesWritten, nil
}

// errUnterminatedComment must not wrap io.EOF.
var errUnterminatedComment = errors.New("block comment is missing its '*/' terminator")

// findComment discards the remainder of a C comment. It assumes
// that the first comment character has already been read.
func findComment(bufferedSrc *bufio.Reader) error {
	secondChar, err := bufferedSrc.ReadByte()
	switch {
	case errors.Is(err, io.EOF):
		return errors.New("input ends with an incomplete comment")
	case err != nil:
		return fmt.Errorf("failed to read second start of comment char - %w", err)
	}

	switch secondChar {
	case '/':
		_, err := bufferedSrc.ReadBytes('\n')
		switch {
		case err == nil, errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("failed to find newline char for line comment - %w", err)
		}
	case '*':
		for {
			_, err := bufferedSrc.ReadBytes('*')
			switch {
			case errors.Is(err, io.EOF):
				return errUnterminatedComment
			case err != nil:
				return fmt.Errorf("failed to find corresponding '*/' end of comment - %w", err)
			}

			nextChar, err := bufferedSrc.ReadByte()
			switch {
			case errors.Is(err, io.EOF):
				return errUnterminatedComment
			case err != nil:
				return fmt.Errorf("failed to check if next byte is end of multi-line comment - %w", err)
			}

			if nextChar == '/' {
				return nil
			}

			err = bufferedSrc.UnreadByte()
			if err != nil {
				return fmt.Errorf("failed to unread byte - %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown second start of comment char '%c'", secondChar)
	}
}

func isHexChar(b byte) bool {
	return (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || (b >= '0' && b <= '9')
}
