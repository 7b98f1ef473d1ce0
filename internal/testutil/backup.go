package testutil

import (
	"crepo/internal/archive"
	"crepo/internal/cr"
	"crepo/internal/encryption"
)

// NewTestArchive creates a new in-memory snapshot archive for testing.
func NewTestArchive() *archive.MemoryArchive {
	return archive.NewMemoryArchive()
}

// NewTestEncryptor returns an encryptor that stores snapshots unencrypted.
func NewTestEncryptor() cr.Encryptor {
	return encryption.Plaintext{}
}
