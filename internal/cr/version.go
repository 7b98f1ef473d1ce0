package cr

import "fmt"

// db_info keys holding schema version markers.
const (
	SchemaMajorVersionKey         = "SCHEMA_VERSION"
	SchemaMinorVersionKey         = "SCHEMA_MINOR_VERSION"
	CreationSchemaMajorVersionKey = "CREATION_SCHEMA_MAJOR_VERSION"
	CreationSchemaMinorVersionKey = "CREATION_SCHEMA_MINOR_VERSION"
)

// SchemaVersion is a (major, minor) schema version pair.
type SchemaVersion struct {
	Major int
	Minor int
}

// CurrentSchema is the schema version this software creates and upgrades to.
var CurrentSchema = SchemaVersion{Major: 1, Minor: 6}

// Compare returns -1, 0 or 1 as v is older than, equal to or newer than o.
func (v SchemaVersion) Compare(o SchemaVersion) int {
	switch {
	case v.Major < o.Major:
		return -1
	case v.Major > o.Major:
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	}
	return 0
}

// Less reports whether v is older than o.
func (v SchemaVersion) Less(o SchemaVersion) bool { return v.Compare(o) < 0 }

func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Encode packs v into a single integer, major*1000 + minor, for archive version markers.
func (v SchemaVersion) Encode() int64 {
	return int64(v.Major)*1000 + int64(v.Minor)
}

// DecodeSchemaVersion reverses SchemaVersion.Encode.
func DecodeSchemaVersion(n int64) SchemaVersion {
	return SchemaVersion{Major: int(n / 1000), Minor: int(n % 1000)}
}
