// Package id generates identifiers used across the SIRE server.
package id

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// SessionCodeLength is the fixed width of a session code.
const SessionCodeLength = 6

const sessionCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewSessionCode returns a short human-friendly code of uppercase letters and
// digits read from crypto/rand.
func NewSessionCode() (string, error) {
	return newSessionCode(rand.Reader)
}

func newSessionCode(r io.Reader) (string, error) {
	// Rejection sampling keeps the alphabet uniform: 252 is the largest
	// multiple of 36 below 256.
	const limit = 252
	out := make([]byte, 0, SessionCodeLength)
	buf := make([]byte, SessionCodeLength*2)
	for len(out) < SessionCodeLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, sessionCodeAlphabet[int(b)%len(sessionCodeAlphabet)])
			if len(out) == SessionCodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// NewConnectionID returns an identifier for one realtime connection.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewCorrelationID returns an identifier that ties a client-visible error to
// its audit and log records.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NewRequestID returns an identifier for a request that arrived without one.
func NewRequestID() string {
	return uuid.NewString()
}
