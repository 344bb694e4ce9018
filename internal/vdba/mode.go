package vdba

import (
	"fmt"
	"strings"
)

// Mode is the access mode of a connection or a transaction.
type Mode string

// Supported modes.
const (
	ReadOnly  Mode = "readonly"
	ReadWrite Mode = "readwrite"
)

// ParseMode converts a string to a Mode. Matching is case-insensitive and
// surrounding whitespace is ignored.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ReadOnly:
		return ReadOnly, nil
	case ReadWrite:
		return ReadWrite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	return m == ReadOnly || m == ReadWrite
}

// Allows reports whether a transaction in mode tx may run on a connection in
// mode m. A readwrite connection allows both; a readonly connection only
// allows readonly transactions.
func (m Mode) Allows(tx Mode) bool {
	switch m {
	case ReadWrite:
		return tx.Valid()
	case ReadOnly:
		return tx == ReadOnly
	default:
		return false
	}
}

// String returns the mode name.
func (m Mode) String() string {
	return string(m)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, string(m))
	}
	return []byte(m), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so modes can be read
// straight from YAML configuration.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
