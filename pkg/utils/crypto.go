package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenesisHash is the previousHash sentinel for the first block in a chain.
const GenesisHash = "0"

// HashData returns the hex-encoded SHA-256 digest of data.
func HashData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex-encoded SHA-256 digest of s.
func HashString(s string) string {
	return HashData([]byte(s))
}

// GenerateID generates a random hex ID
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
