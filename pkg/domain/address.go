package domain

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "consentis/pkg/domain-errors"
)

// Address is a 0x-prefixed, 40-hex-digit account address in EIP-55 checksum form.
// The zero value is "no address" (wallet disconnected).
type Address string

// ParseAddress validates the strict hexadecimal address format and normalizes
// to checksum casing. It is the single pre-flight gate: callers must not hand
// an unparsed string to the chain, the policy builder, or the backend.
func ParseAddress(s string) (Address, error) {
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return "", dErrors.New(dErrors.CodeInvalidAddress, "address must be 0x followed by 40 hex characters")
	}
	body := s[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidAddress, "address must be 0x followed by 40 hex characters")
	}
	return Address("0x" + checksumHex(strings.ToLower(body))), nil
}

// MustAddress parses a compile-time-known address, panicking on failure.
// Use only for constants and test fixtures.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsValidAddress reports whether s is in strict address format.
func IsValidAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

func (a Address) String() string { return string(a) }

// Lower returns the all-lowercase form used for case-insensitive joins
// (the chain and backend both compare addresses case-insensitively).
func (a Address) Lower() string { return strings.ToLower(string(a)) }

// Equal compares two addresses ignoring checksum casing.
func (a Address) Equal(b Address) bool { return a.Lower() == b.Lower() }

// checksumHex applies EIP-55 mixed-case checksum encoding to a lowercase hex body.
func checksumHex(body string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(body))
	sum := h.Sum(nil)

	out := []byte(body)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
