package cr

import (
	"errors"
	"fmt"
)

var (
	// ErrConstraintConflict marks a unique-constraint violation that the operation does not absorb.
	ErrConstraintConflict = errors.New("unique constraint violated")

	// ErrIncompatibleSchema means the repository was created by newer software with a higher major version.
	ErrIncompatibleSchema = errors.New("central repository schema is not compatible with this version of the software; upgrade the software to use this repository")

	// ErrCorruptSchema means a schema version marker exists but cannot be parsed.
	ErrCorruptSchema = errors.New("central repository schema version is corrupt")

	// ErrSchemaVersionMissing means a schema version marker is absent from db_info.
	ErrSchemaVersionMissing = errors.New("central repository schema version is missing")

	// ErrMigrationFailed wraps any failure raised while applying upgrade steps.
	ErrMigrationFailed = errors.New("central repository schema upgrade failed")

	// ErrOrganizationInUse blocks deleting an organization still referenced by cases or reference sets.
	ErrOrganizationInUse = errors.New("organization is referenced by cases or reference sets")

	// ErrRepositoryMissing means the backing database does not exist.
	ErrRepositoryMissing = errors.New("central repository database missing")

	// ErrResetUnsupported is returned by engines that do not allow wiping content in place.
	ErrResetUnsupported = errors.New("reset is not supported by this database engine")

	// ErrBackupUnsupported is returned by engines that cannot produce a file snapshot.
	ErrBackupUnsupported = errors.New("backup is not supported by this database engine")

	// ErrSnapshotNotFound is returned by archives asked for a snapshot they do not hold.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// ValidationError reports a missing, empty or out-of-range argument. It is raised
// before any I/O and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NormalizationError reports a value that failed type-specific normalization.
type NormalizationError struct {
	TypeID int
	Value  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalizing %q for correlation type %d: %s", e.Value, e.TypeID, e.Reason)
}

// ConnectivityError reports a failure to obtain a connection to the backing engine.
type ConnectivityError struct {
	Backend string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connecting to %s central repository: %v", e.Backend, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StorageError wraps a driver error with the store operation that raised it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err for op. It returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// SchemaVersionError describes a schema version that cannot be used.
// Err is one of ErrIncompatibleSchema, ErrCorruptSchema or ErrSchemaVersionMissing.
type SchemaVersionError struct {
	Key       string
	Value     string
	Persisted SchemaVersion
	Software  SchemaVersion
	Err       error
}

func (e *SchemaVersionError) Error() string {
	switch {
	case errors.Is(e.Err, ErrCorruptSchema):
		return fmt.Sprintf("bad value for %s (%s): %v", e.Key, e.Value, e.Err)
	case errors.Is(e.Err, ErrSchemaVersionMissing):
		return fmt.Sprintf("failed to read %s from db_info: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("repository schema %s, software schema %s: %v", e.Persisted, e.Software, e.Err)
}

func (e *SchemaVersionError) Unwrap() error { return e.Err }
