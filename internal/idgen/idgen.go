// Package idgen generates prefixed, human-readable record identifiers.
//
// Identifiers look like "DNR-7K2Q9XA0PM": an upper-case prefix, a dash and
// ten characters drawn from [A-Z0-9] using a cryptographically strong
// source. Uniqueness is enforced by the storage layer's primary key, not
// by this package.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// SuffixLength is the number of random characters after the prefix.
	SuffixLength = 10

	// Largest multiple of len(alphabet) that fits in a byte. Bytes at or
	// above it are rejected to keep the distribution uniform.
	maxByte = 256 - (256 % len(alphabet))
)

// Generator produces prefixed identifiers from an entropy source.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var defaultGenerator = &Generator{entropy: rand.Reader}

// Default returns the process-wide generator backed by crypto/rand.
func Default() *Generator {
	return defaultGenerator
}

// NewGenerator creates a generator reading from entropy.
// Useful for testing with deterministic entropy.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate returns "<PREFIX>-<10 random alphanumerics>".
func (g *Generator) Generate(prefix string) (string, error) {
	suffix := make([]byte, 0, SuffixLength)
	buf := make([]byte, SuffixLength*2)

	g.mu.Lock()
	defer g.mu.Unlock()

	for len(suffix) < SuffixLength {
		if _, err := io.ReadFull(g.entropy, buf); err != nil {
			return "", fmt.Errorf("idgen: read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			suffix = append(suffix, alphabet[int(b)%len(alphabet)])
			if len(suffix) == SuffixLength {
				break
			}
		}
	}

	return strings.ToUpper(prefix) + "-" + string(suffix), nil
}

// Generate uses the default generator.
func Generate(prefix string) (string, error) {
	return defaultGenerator.Generate(prefix)
}

// Valid reports whether id has the shape produced by Generate for prefix.
func Valid(prefix, id string) bool {
	head := strings.ToUpper(prefix) + "-"
	if !strings.HasPrefix(id, head) {
		return false
	}
	suffix := id[len(head):]
	if len(suffix) != SuffixLength {
		return false
	}
	for i := 0; i < len(suffix); i++ {
		if strings.IndexByte(alphabet, suffix[i]) < 0 {
			return false
		}
	}
	return true
}
