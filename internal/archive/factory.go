// Package archive stores encrypted repository snapshots on the filesystem, in
// memory or in S3.
package archive

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"crepo/internal/config"
	"crepo/internal/cr"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName rejects snapshot names that could escape the archive or collide with
// its bookkeeping files.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || len(name) > 200 || strings.HasSuffix(name, versionSuffix) {
		return &cr.ValidationError{Field: "snapshot name", Reason: fmt.Sprintf("%q is not allowed", name)}
	}
	return nil
}

// NewArchiveFromConfig creates an Archive based on the archive config type.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (cr.Archive, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryArchive(), nil
	case "s3":
		return NewS3Archive(ctx, cfg)
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem archive requires root to be set")
		}
		return NewFileSystemArchive(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
