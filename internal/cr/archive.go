package cr

import (
	"context"
	"io"
)

// Archive stores repository snapshots by name. All operations stream through
// io.Reader/io.Writer so large repositories are never held in memory.
type Archive interface {
	// Put stores a snapshot under name. size is the number of bytes that will be read from r.
	// version is the schema version the snapshot was taken at, encoded by SchemaVersion.Encode.
	Put(ctx context.Context, name string, r io.Reader, size int64, version int64) error

	// Get retrieves the snapshot stored under name and writes it to w.
	Get(ctx context.Context, name string, w io.Writer) error

	// Version returns the version stored with name, or 0 if name is absent.
	Version(ctx context.Context, name string) (int64, error)

	// List returns the names of all stored snapshots in lexical order.
	List(ctx context.Context) ([]string, error)

	// ValidateSetup verifies that the archive is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// Encryptor encrypts snapshots with a public key and unlocks the private key for restore.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext for the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the key material exists.
	IsConfigured() bool

	// Extension is appended to snapshot names written through this encryptor.
	Extension() string
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
