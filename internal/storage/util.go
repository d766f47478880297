package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// NewID returns a random hex identifier for work and event records.
func NewID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("failed to read system RNG: %v", err))
	}
	return hex.EncodeToString(buf)
}
