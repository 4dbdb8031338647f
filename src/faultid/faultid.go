// Package faultid normalizes fault identifiers to their canonical 0xHHHH spelling.
//
// Identifiers are hexadecimal codes. All of "165", "0x165" and "0X0165" name
// the same fault and normalize to "0x0165". Bare digit strings are read as hex
// because that is how the logs and the operators spell them.
package faultid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinDigits is the zero-padded width of the canonical form.
const MinDigits = 4

// ErrInvalid is returned for strings that are not a hexadecimal code.
var ErrInvalid = errors.New("invalid fault identifier")

// ID is a normalized fault identifier. The zero value is not a valid ID.
type ID struct {
	value uint32
	set   bool
}

// Parse normalizes any accepted spelling into an ID.
func Parse(s string) (ID, error) {
	raw := strings.TrimSpace(s)
	digits := raw
	if len(digits) > 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		digits = digits[2:]
	}
	if digits == "" || len(digits) > 8 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return ID{value: uint32(v), set: true}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Normalize returns the canonical spelling of s.
func Normalize(s string) (string, error) {
	id, err := Parse(s)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// String renders the canonical form: lower-case 0x prefix, upper-case digits,
// at least MinDigits wide.
func (id ID) String() string {
	if !id.set {
		return ""
	}
	return fmt.Sprintf("0x%0*X", MinDigits, id.value)
}

// Digits is the significant hex digits without prefix or leading zeros,
// upper-case. Used to build patterns that accept any padding.
func (id ID) Digits() string {
	return strings.ToUpper(strconv.FormatUint(uint64(id.value), 16))
}
