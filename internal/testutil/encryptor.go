package testutil

import (
	"cfgedit/internal/cfgedit"
	"cfgedit/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() cfgedit.Encryptor {
	return encryption.NewTestEncryptor()
}
