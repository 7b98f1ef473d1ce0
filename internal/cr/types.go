package cr

import (
	"fmt"
	"unicode/utf16"
)

// MaxValueLength is the exclusive upper bound on a stored correlation value,
// measured by ValueLength.
const MaxValueLength = 256

// ValueLength returns the length of v in UTF-16 code units.
func ValueLength(v string) int {
	n := 0
	for _, r := range v {
		n += utf16.RuneLen(r)
	}
	return n
}

// ValueTooLong reports whether v reaches MaxValueLength.
func ValueTooLong(v string) bool {
	return ValueLength(v) >= MaxValueLength
}

// DefaultBulkThreshold is the number of staged instances that triggers an automatic flush.
const DefaultBulkThreshold = 1000

// KnownStatus classifies a correlation value.
type KnownStatus int

const (
	KnownStatusUnknown KnownStatus = 0
	KnownStatusKnown   KnownStatus = 1
	KnownStatusBad     KnownStatus = 2
)

// KnownStatusFromInt converts a stored integer to a KnownStatus.
func KnownStatusFromInt(v int) (KnownStatus, error) {
	switch KnownStatus(v) {
	case KnownStatusUnknown, KnownStatusKnown, KnownStatusBad:
		return KnownStatus(v), nil
	}
	return 0, fmt.Errorf("invalid known status %d", v)
}

// Valid reports whether s is one of the defined statuses.
func (s KnownStatus) Valid() bool {
	return s == KnownStatusUnknown || s == KnownStatusKnown || s == KnownStatusBad
}

func (s KnownStatus) String() string {
	switch s {
	case KnownStatusUnknown:
		return "unknown"
	case KnownStatusKnown:
		return "known"
	case KnownStatusBad:
		return "bad"
	}
	return fmt.Sprintf("KnownStatus(%d)", int(s))
}

// ParseKnownStatus parses the names produced by String.
func ParseKnownStatus(s string) (KnownStatus, error) {
	switch s {
	case "unknown":
		return KnownStatusUnknown, nil
	case "known":
		return KnownStatusKnown, nil
	case "bad", "notable":
		return KnownStatusBad, nil
	}
	return 0, &ValidationError{Field: "known_status", Reason: fmt.Sprintf("unrecognized status %q", s)}
}

// Organization owns cases and reference sets.
type Organization struct {
	ID       int64
	Name     string
	POCName  string
	POCEmail string
	POCPhone string
}

// Case is a correlation case. UUID is the identity; ID is assigned by the store.
type Case struct {
	ID            int64
	UUID          string
	Org           *Organization
	DisplayName   string
	CreationDate  string
	CaseNumber    string
	ExaminerName  string
	ExaminerEmail string
	ExaminerPhone string
	Notes         string
}

// DataSource belongs to a case and is identified within it by ObjectID.
type DataSource struct {
	ID       int64
	CaseID   int64
	DeviceID string
	Name     string
	ObjectID int64
	MD5      string
	SHA1     string
	SHA256   string
}

// Instance is one occurrence of a correlation value in a case and data source.
type Instance struct {
	ID           int64
	Type         CorrelationType
	Value        string
	Case         *Case
	DataSource   *DataSource
	FilePath     string
	Comment      string
	KnownStatus  KnownStatus
	FileObjectID int64
	AccountID    int64
}

// ReferenceSet is a named, versioned collection of values such as a hash set.
type ReferenceSet struct {
	ID          int64
	OrgID       int64
	Name        string
	Version     string
	KnownStatus *KnownStatus
	ReadOnly    bool
	Type        *CorrelationType
	ImportDate  string
}

// ReferenceInstance is one value within a reference set.
type ReferenceInstance struct {
	ID          int64
	SetID       int64
	Value       string
	KnownStatus *KnownStatus
	Comment     string
}

// HashHit is the result of looking up a hash in a reference set.
type HashHit struct {
	Value    string
	SetID    int64
	Comments []string
}

// Examiner is a user who tags personas and accounts.
type Examiner struct {
	ID          int64
	LoginName   string
	DisplayName string
}

// AccountType maps an account category to the correlation type that stores it.
type AccountType struct {
	ID                int64
	TypeName          string
	DisplayName       string
	CorrelationTypeID int
}

// Account is a normalized account identifier of a given type.
type Account struct {
	ID         int64
	Type       AccountType
	Identifier string
}

// PersonaStatus is the lifecycle state of a persona.
type PersonaStatus int

const (
	PersonaStatusUnknown PersonaStatus = 1
	PersonaStatusActive  PersonaStatus = 2
	PersonaStatusMerged  PersonaStatus = 3
	PersonaStatusSplit   PersonaStatus = 4
	PersonaStatusDeleted PersonaStatus = 5
)

// PersonaStatuses lists every status in id order.
var PersonaStatuses = []PersonaStatus{
	PersonaStatusUnknown, PersonaStatusActive, PersonaStatusMerged, PersonaStatusSplit, PersonaStatusDeleted,
}

func (s PersonaStatus) String() string {
	switch s {
	case PersonaStatusUnknown:
		return "Unknown"
	case PersonaStatusActive:
		return "Active"
	case PersonaStatusMerged:
		return "Merged"
	case PersonaStatusSplit:
		return "Split"
	case PersonaStatusDeleted:
		return "Deleted"
	}
	return fmt.Sprintf("PersonaStatus(%d)", int(s))
}

// Confidence scores an association between a persona and an alias, account or attribute.
type Confidence int

const (
	ConfidenceLow      Confidence = 1
	ConfidenceModerate Confidence = 2
	ConfidenceHigh     Confidence = 3
)

// Confidences lists every confidence level in id order.
var Confidences = []Confidence{ConfidenceLow, ConfidenceModerate, ConfidenceHigh}

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "Low confidence"
	case ConfidenceModerate:
		return "Moderate confidence"
	case ConfidenceHigh:
		return "High confidence"
	}
	return fmt.Sprintf("Confidence(%d)", int(c))
}

// Persona groups accounts believed to belong to one individual.
// Dates are milliseconds since the Unix epoch.
type Persona struct {
	ID           int64
	UUID         string
	Name         string
	Comment      string
	CreatedDate  int64
	ModifiedDate int64
	Status       PersonaStatus
	Examiner     Examiner
}

// PersonaAlias is an alternate name for a persona.
type PersonaAlias struct {
	ID            int64
	PersonaID     int64
	Alias         string
	Justification string
	Confidence    Confidence
	DateAdded     int64
	Examiner      Examiner
}

// PersonaMetadata is a named attribute of a persona. Names are unique per persona.
type PersonaMetadata struct {
	ID            int64
	PersonaID     int64
	Name          string
	Value         string
	Justification string
	Confidence    Confidence
	DateAdded     int64
	Examiner      Examiner
}

// PersonaAccount links a persona to an account.
type PersonaAccount struct {
	ID            int64
	Persona       Persona
	Account       Account
	Justification string
	Confidence    Confidence
	DateAdded     int64
	Examiner      Examiner
}
