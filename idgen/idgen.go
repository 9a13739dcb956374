// Package idgen provides Fieldline's ID and capability-token generation.
//
// Entity identifiers (jobs, tasks, notes, managers) are UUIDv7 — time-sortable
// and safe to expose. Capability tokens are longer random base-36 strings: they
// are bearer credentials embedded in shareable links, so they carry more
// entropy and no timestamp.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// TokenLength is the default capability-token length. 26 base-36 characters
// carry ~134 bits of entropy, comfortably beyond brute-force reach for a
// credential that doubles as a share link.
const TokenLength = 26

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Token returns a Generator producing random base-36 strings of the given
// length, suitable for capability tokens in shareable links.
func Token(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		b := make([]byte, length)
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Used for type-scoped identifiers (e.g. "job_", "tsk_", "note_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the entity-ID default: UUIDv7.
var Default Generator = UUIDv7()

// DefaultToken is the capability-token default.
var DefaultToken Generator = Token(TokenLength)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string and returns it or an error.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}
