// Package idgen hands out identifiers. Components take a Generator in their
// config so tests can pin IDs; production defaults to UUIDv7.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Generator returns a new unique identifier on each call.
type Generator func() string

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID yields lowercase base-36 strings of n characters. Staged upload
// names and trace IDs use it since the result is safe in paths and headers.
// Bytes above the largest multiple of 36 are discarded so every symbol is
// equally likely.
func NanoID(n int) Generator {
	const limit = 256 - 256%len(base36)
	return func() string {
		out := make([]byte, 0, n)
		buf := make([]byte, n+n/4+1)
		for len(out) < n {
			if _, err := rand.Read(buf); err != nil {
				panic("idgen: crypto/rand: " + err.Error())
			}
			for _, b := range buf {
				if int(b) >= limit {
					continue
				}
				out = append(out, base36[int(b)%len(base36)])
				if len(out) == n {
					break
				}
			}
		}
		return string(out)
	}
}

// UUIDv7 yields time-ordered RFC 9562 UUIDs, so journal rows and operation
// IDs sort by creation.
func UUIDv7() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Prefixed tags every ID from gen with prefix ("op_", "up_", "opl_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Default backs New.
var Default Generator = UUIDv7()

// New returns Default().
func New() string { return Default() }

// Parse accepts any UUID form and returns the canonical lowercase one.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: %q is not a UUID: %w", s, err)
	}
	return u.String(), nil
}
