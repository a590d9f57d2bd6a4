package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"studylib/internal/constants"
)

// IDKind is the prefix that tags a record ID with its table.
type IDKind string

const (
	AccountID      IDKind = "acc"
	MessageID      IDKind = "msg"
	RefreshTokenID IDKind = "rft"
)

// NewID returns the kind prefix, an underscore and IDRandomBytes of
// lowercase hex.
func NewID(kind IDKind) (string, error) {
	var b [constants.IDRandomBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return string(kind) + "_" + hex.EncodeToString(b[:]), nil
}

// ValidID reports whether id has the shape NewID produces for kind.
func ValidID(kind IDKind, id string) bool {
	hexPart, ok := strings.CutPrefix(id, string(kind)+"_")
	if !ok || len(hexPart) != hex.EncodedLen(constants.IDRandomBytes) {
		return false
	}
	for _, r := range hexPart {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
