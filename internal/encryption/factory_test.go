package encryption

import (
	"bytes"
	"path/filepath"
	"testing"

	"crepo/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	dir := t.TempDir()
	keys := config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "crepo.pub"),
		PrivateKeyPath: filepath.Join(dir, "crepo.key"),
	}

	tests := []struct {
		name    string
		typ     string
		paths   bool
		wantExt string
		wantErr bool
	}{
		{name: "age", typ: "age", paths: true, wantExt: ".age"},
		{name: "default is age", typ: "", paths: true, wantExt: ".age"},
		{name: "age without key paths", typ: "age", wantErr: true},
		{name: "none", typ: "none", wantExt: ""},
		{name: "unknown", typ: "rot13", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.EncryptionConfig{Type: tt.typ}
			if tt.paths {
				cfg.PublicKeyPath, cfg.PrivateKeyPath = keys.PublicKeyPath, keys.PrivateKeyPath
			}
			got, err := NewEncryptorFromConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Extension() != tt.wantExt {
				t.Errorf("Extension() = %q, want %q", got.Extension(), tt.wantExt)
			}
		})
	}
}

func TestPlaintext_RoundTrip(t *testing.T) {
	var p Plaintext
	var sealed bytes.Buffer
	if err := p.Encrypt(bytes.NewReader([]byte("snapshot")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	dec, err := p.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var plain bytes.Buffer
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain.String() != "snapshot" {
		t.Errorf("Decrypt() = %q, want %q", plain.String(), "snapshot")
	}
}
