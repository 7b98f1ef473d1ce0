package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"crepo/internal/archive"
	"crepo/internal/cr"
	"crepo/internal/database"
	"crepo/internal/encryption"
)

// ErrKeysMissing means backups are encrypted but no key pair has been generated.
var ErrKeysMissing = errors.New("snapshot keys not configured; run crepo backup keys init")

// snapshotExt is the suffix every archived snapshot name carries before the
// encryptor's extension.
const snapshotExt = ".db"

// BackupInfo describes one archived snapshot.
type BackupInfo struct {
	Name   string           `json:"name"`
	Schema cr.SchemaVersion `json:"schema"`
}

// SetupKeys generates the snapshot key pair protected by passphrase.
func (a *App) SetupKeys(passphrase string) error {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return err
	}
	a.log.Info("snapshot keys created")
	return nil
}

// Backup snapshots the repository, encrypts it and stores it in the archive as
// <name>.db plus the encryptor's extension. An empty name defaults to the
// operation id. It returns the archived name.
func (a *App) Backup(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = "crepo-" + a.op.ID
	}
	archived := name + snapshotExt + a.encryptor.Extension()
	if err := archive.ValidateName(archived); err != nil {
		return "", err
	}
	if !a.encryptor.IsConfigured() {
		return "", ErrKeysMissing
	}

	tmpDir, err := os.MkdirTemp("", "crepo-backup-*")
	if err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	plain := filepath.Join(tmpDir, "snapshot.db")
	if err := a.store.BackupTo(ctx, plain); err != nil {
		return "", err
	}
	sealed := filepath.Join(tmpDir, "snapshot.sealed")
	if err := transformFile(plain, sealed, a.encryptor.Encrypt); err != nil {
		return "", fmt.Errorf("encrypting snapshot: %w", err)
	}

	f, err := os.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("opening sealed snapshot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat sealed snapshot: %w", err)
	}

	if err := a.archive.Put(ctx, archived, f, info.Size(), cr.CurrentSchema.Encode()); err != nil {
		return "", fmt.Errorf("archiving snapshot: %w", err)
	}
	a.log.Info("snapshot archived", "name", archived, "bytes", info.Size(), "schema", cr.CurrentSchema.String())
	return archived, nil
}

// ListBackups returns the archived snapshots with the schema each was taken at.
func (a *App) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	names, err := a.archive.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BackupInfo, 0, len(names))
	for _, n := range names {
		v, err := a.archive.Version(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, BackupInfo{Name: n, Schema: cr.DecodeSchemaVersion(v)})
	}
	return out, nil
}

// Restore writes the archived snapshot name to dest as a SQLite database. dest
// must not exist. The result is opened and its schema checked before it is
// moved into place.
func (a *App) Restore(ctx context.Context, name, dest, passphrase string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("restore destination %s already exists", dest)
	}

	v, err := a.archive.Version(ctx, name)
	if err != nil {
		return err
	}
	if snap := cr.DecodeSchemaVersion(v); snap.Major > cr.CurrentSchema.Major {
		return &cr.SchemaVersionError{Persisted: snap, Software: cr.CurrentSchema, Err: cr.ErrIncompatibleSchema}
	}

	dec, err := a.decrypterFor(name, passphrase)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating restore directory: %w", err)
	}
	tmpDir, err := os.MkdirTemp(filepath.Dir(dest), ".crepo-restore-*")
	if err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	sealed := filepath.Join(tmpDir, "snapshot.sealed")
	if err := a.download(ctx, name, sealed); err != nil {
		return err
	}
	plain := filepath.Join(tmpDir, "snapshot.db")
	if err := transformFile(sealed, plain, dec.Decrypt); err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}

	restored, err := snapshotSchema(ctx, plain)
	if err != nil {
		return fmt.Errorf("verifying restored snapshot: %w", err)
	}
	if err := os.Rename(plain, dest); err != nil {
		return fmt.Errorf("moving restored snapshot into place: %w", err)
	}
	a.log.Info("snapshot restored", "name", name, "dest", dest, "schema", restored.String())
	return nil
}

func (a *App) decrypterFor(name, passphrase string) (cr.DecryptionContext, error) {
	ext := a.encryptor.Extension()
	switch {
	case ext != "" && strings.HasSuffix(name, ext):
		return a.encryptor.Unlock(passphrase)
	case strings.HasSuffix(name, snapshotExt):
		return encryption.Plaintext{}, nil
	}
	return nil, fmt.Errorf("snapshot %s was not written with the configured encryption", name)
}

func (a *App) download(ctx context.Context, name, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	if err := a.archive.Get(ctx, name, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// snapshotSchema opens the database at path and reads its schema version.
func snapshotSchema(ctx context.Context, path string) (cr.SchemaVersion, error) {
	s := database.NewStore(database.NewSQLiteProvider(path), database.Options{Logger: cr.NewNopLogger()})
	v, err := s.SchemaVersion(ctx)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return v, err
}

// transformFile streams src through fn into a new file at dst.
func transformFile(src, dst string, fn func(r io.Reader, w io.Writer) error) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if err := fn(in, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
