package encryption

import (
	"fmt"
	"io"

	"crepo/internal/cr"
)

// Plaintext stores snapshots unencrypted. It is meant for repositories whose
// archive already sits on encrypted storage.
type Plaintext struct{}

var _ cr.Encryptor = Plaintext{}

func (Plaintext) Setup(string) error { return nil }

func (Plaintext) Extension() string { return "" }

func (Plaintext) IsConfigured() bool { return true }

func (Plaintext) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}

func (Plaintext) Unlock(string) (cr.DecryptionContext, error) {
	return Plaintext{}, nil
}

func (Plaintext) Decrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}
